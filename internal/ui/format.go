package ui

import (
	"fmt"
	"time"
)

// FormatDuration formats a duration as a human-readable string
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

// FormatBytes formats bytes as human-readable size
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	fbytes := float64(bytes)

	if bytes >= TB {
		return fmt.Sprintf("%.2f TB", fbytes/TB)
	} else if bytes >= GB {
		return fmt.Sprintf("%.2f GB", fbytes/GB)
	} else if bytes >= MB {
		return fmt.Sprintf("%.2f MB", fbytes/MB)
	} else if bytes >= KB {
		return fmt.Sprintf("%.2f KB", fbytes/KB)
	}
	return fmt.Sprintf("%d B", bytes)
}
