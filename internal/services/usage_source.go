package services

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/trobanga/stagehand/internal/models"
)

// UsageSource reports the current consumption of a storage project.
// ok is false when the source has no data for the project yet.
type UsageSource interface {
	Usage(ctx context.Context, projectID string, path string) (usage models.Usage, ok bool, err error)
}

// CommandRunner runs an external command and returns its standard output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// LFSUsageSource queries Lustre project quotas with "lfs quota -p"
type LFSUsageSource struct {
	Command string
	Run     CommandRunner
}

// NewLFSUsageSource creates a usage source for the given lfs binary
func NewLFSUsageSource(command string) *LFSUsageSource {
	return &LFSUsageSource{Command: command, Run: ExecRunner}
}

// Usage implements UsageSource
func (s *LFSUsageSource) Usage(ctx context.Context, projectID string, path string) (models.Usage, bool, error) {
	if path == "" {
		path = "/"
	}

	out, err := s.Run(ctx, s.Command, "quota", "-p", projectID, path)
	if err != nil {
		return models.Usage{}, false, err
	}
	return ParseLFSQuota(out)
}

// ParseLFSQuota parses the table printed by "lfs quota -p".
//
//	Disk quotas for prj 1001 (pid 1001):
//	     Filesystem  kbytes   quota   limit   grace   files   quota   limit   grace
//	    /mnt/lustre       8       0       0       -       2       0       0       -
//
// Long filesystem names are printed on their own line with the numbers on
// the next one. Values over quota carry a trailing '*'.
func ParseLFSQuota(output []byte) (models.Usage, bool, error) {
	scanner := bufio.NewScanner(bytes.NewReader(output))

	var fields []string
	inTable := false
	for scanner.Scan() {
		line := strings.Fields(scanner.Text())
		if len(line) == 0 {
			continue
		}
		if !inTable {
			inTable = line[0] == "Filesystem"
			continue
		}
		fields = append(fields, line...)
		if len(fields) >= 6 {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return models.Usage{}, false, fmt.Errorf("failed to read lfs output: %w", err)
	}

	if len(fields) < 6 {
		return models.Usage{}, false, nil
	}

	kbytes, err := parseQuotaNumber(fields[1])
	if err != nil {
		return models.Usage{}, false, err
	}
	quota, err := parseQuotaNumber(fields[2])
	if err != nil {
		return models.Usage{}, false, err
	}
	limit, err := parseQuotaNumber(fields[3])
	if err != nil {
		return models.Usage{}, false, err
	}
	files, err := parseQuotaNumber(fields[5])
	if err != nil {
		return models.Usage{}, false, err
	}

	return models.Usage{
		SpaceUsedKB:      kbytes,
		FilesUsed:        int64(files),
		SpaceQuotaKB:     quota,
		HardSpaceQuotaKB: limit,
	}, true, nil
}

func parseQuotaNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "*"), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: lfs quota value %q", models.ErrInvalidRecord, s)
	}
	return v, nil
}
