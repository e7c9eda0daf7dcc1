package utils

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
	sizeTB = 1024 * 1024 * 1024 * 1024
)

var folder = cases.Fold()

// FormatBytes returns a human-readable size (e.g. "1.2 GB")
func FormatBytes(bytes int64) string {
	switch {
	case bytes >= sizeTB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/float64(sizeTB))
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// NormalizeLabel folds a library, genre or collection name for comparison.
func NormalizeLabel(label string) string {
	return folder.String(norm.NFC.String(strings.TrimSpace(label)))
}

// LabelsMatch reports whether any value matches any excluded label
func LabelsMatch(excluded, values []string) bool {
	if len(excluded) == 0 || len(values) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(excluded))
	for _, label := range excluded {
		set[NormalizeLabel(label)] = struct{}{}
	}
	for _, value := range values {
		if _, ok := set[NormalizeLabel(value)]; ok {
			return true
		}
	}
	return false
}
