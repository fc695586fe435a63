package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/trobanga/stagehand/internal/lib"
	"github.com/trobanga/stagehand/internal/models"
)

// ArchiveTimeLayout is the completion timestamp appended to archived task files (MMDDYYYY-HHMMSS)
const ArchiveTimeLayout = "01022006-150405"

// TaskQueue is the set of shared directories exchanged with the provisioning agent.
// The producer writes the queue directory; the consumer reads the completed
// directory and moves files into the archive or dead-letter directory.
type TaskQueue struct {
	fs     afero.Fs
	dirs   models.StorageConfig
	logger *lib.Logger
}

// CompletedTask is a completion file found under the completed directory
type CompletedTask struct {
	Path   string
	TaskID string
}

// NewTaskQueue creates a queue over the given filesystem.
// Directory paths are cleaned so walk paths compare equal to them.
func NewTaskQueue(fs afero.Fs, dirs models.StorageConfig, logger *lib.Logger) *TaskQueue {
	for _, dir := range []*string{
		&dirs.QueuePath,
		&dirs.RunningPath,
		&dirs.CompletedPath,
		&dirs.ArchivePath,
		&dirs.DeadLetterPath,
		&dirs.AccountQueuePath,
	} {
		if *dir != "" {
			*dir = filepath.Clean(*dir)
		}
	}
	return &TaskQueue{fs: fs, dirs: dirs, logger: logger}
}

// Write stores a task in the queue directory under its category file name.
// The JSON is written to a hidden temp file and renamed into place so the
// agent never sees a partial file.
func (q *TaskQueue) Write(task models.StorageTask, category models.TaskCategory) (string, error) {
	if q.dirs.QueuePath == "" {
		return "", lib.ErrNotConfigured("task producer", "storage.queue_path")
	}

	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal task %s: %w", task.CFTaskID, err)
	}

	target := filepath.Join(q.dirs.QueuePath, models.QueueFileName(category, task.CFTaskID))
	if err := q.writeAtomic(q.dirs.QueuePath, target, data); err != nil {
		return "", lib.ErrTaskWrite(target, err)
	}
	q.logger.Debug("Wrote task file", "path", target, "bytes", len(data))
	return target, nil
}

// WriteAccountRequest stores an account-provisioning request for username
func (q *TaskQueue) WriteAccountRequest(request models.AccountRequest) (string, error) {
	if q.dirs.AccountQueuePath == "" {
		return "", lib.ErrNotConfigured("account follow-up", "storage.account_queue_path")
	}

	data, err := json.MarshalIndent(request, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal account request for %s: %w", request.User, err)
	}

	target := filepath.Join(q.dirs.AccountQueuePath, fmt.Sprintf("account_%s.json", request.User))
	if err := q.writeAtomic(q.dirs.AccountQueuePath, target, data); err != nil {
		return "", lib.ErrTaskWrite(target, err)
	}
	return target, nil
}

func (q *TaskQueue) writeAtomic(dir string, target string, data []byte) error {
	if err := q.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := filepath.Join(dir, fmt.Sprintf(".task.tmp.%s", uuid.New().String()))
	if err := afero.WriteFile(q.fs, tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := q.fs.Rename(tempFile, target); err != nil {
		_ = q.fs.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Completed lists completion files under the completed directory, sorted by path.
// A missing directory yields no files.
func (q *TaskQueue) Completed() ([]CompletedTask, error) {
	root := q.dirs.CompletedPath
	if root == "" {
		return nil, nil
	}

	exists, err := afero.DirExists(q.fs, root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat completed directory: %w", err)
	}
	if !exists {
		return nil, nil
	}

	var tasks []CompletedTask
	err = afero.Walk(q.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != root && (path == q.dirs.ArchivePath || path == q.dirs.DeadLetterDir()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !isTaskFile(info.Name()) {
			return nil
		}
		id, ok := models.TaskIDFromFileName(info.Name())
		if !ok {
			return nil
		}
		tasks = append(tasks, CompletedTask{Path: path, TaskID: id})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan completed directory: %w", err)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Path < tasks[j].Path
	})
	return tasks, nil
}

// Archive moves a completed task file into the archive directory with a completion timestamp
func (q *TaskQueue) Archive(path string, at time.Time) (string, error) {
	return q.moveStamped(path, q.dirs.ArchivePath, at)
}

// DeadLetter moves a completed task file that could not be reconciled out of the way
func (q *TaskQueue) DeadLetter(path string, at time.Time) (string, error) {
	return q.moveStamped(path, q.dirs.DeadLetterDir(), at)
}

func (q *TaskQueue) moveStamped(path string, dir string, at time.Time) (string, error) {
	if dir == "" {
		return "", lib.ErrNotConfigured("task consumer", "storage.archive_path")
	}
	if err := q.fs.MkdirAll(dir, 0755); err != nil {
		return "", lib.ErrTaskWrite(dir, err)
	}

	target, err := q.freeTarget(dir, ArchiveFileName(filepath.Base(path), at))
	if err != nil {
		return "", lib.ErrTaskWrite(dir, err)
	}
	if err := q.fs.Rename(path, target); err != nil {
		return "", lib.ErrTaskWrite(target, err)
	}
	q.logger.Debug("Moved task file", "from", path, "to", target)
	return target, nil
}

// freeTarget returns dir/name, or dir/<stem>-<n>.json when that name is taken.
// Archived files are never overwritten.
func (q *TaskQueue) freeTarget(dir string, name string) (string, error) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	target := filepath.Join(dir, name)
	for n := 1; ; n++ {
		exists, err := afero.Exists(q.fs, target)
		if err != nil {
			return "", err
		}
		if !exists {
			return target, nil
		}
		target = filepath.Join(dir, fmt.Sprintf("%s-%d.json", stem, n))
	}
}

// ArchiveFileName returns "<stem>_completed_<MMDDYYYY-HHMMSS>.json"
func ArchiveFileName(name string, at time.Time) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return stem + "_completed_" + at.Format(ArchiveTimeLayout) + ".json"
}

// ListIDs returns the task ids of the task files directly inside dir, sorted.
// A missing or unset directory yields none.
func (q *TaskQueue) ListIDs(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}

	entries, err := afero.ReadDir(q.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !isTaskFile(entry.Name()) {
			continue
		}
		if id, ok := models.TaskIDFromFileName(entry.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ReadQueued loads the queued task with the given file name
func (q *TaskQueue) ReadQueued(name string) (models.StorageTask, error) {
	var task models.StorageTask
	data, err := afero.ReadFile(q.fs, filepath.Join(q.dirs.QueuePath, name))
	if err != nil {
		return task, fmt.Errorf("failed to read queued task %s: %w", name, err)
	}
	if err := json.Unmarshal(data, &task); err != nil {
		return task, fmt.Errorf("%w: queued task %s: %v", models.ErrInvalidRecord, name, err)
	}
	return task, nil
}

// QueuedFiles returns the names of task files in the queue directory, sorted
func (q *TaskQueue) QueuedFiles() ([]string, error) {
	if q.dirs.QueuePath == "" {
		return nil, nil
	}

	entries, err := afero.ReadDir(q.fs, q.dirs.QueuePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && isTaskFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// isTaskFile skips temp files and anything that is not JSON
func isTaskFile(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".json")
}
