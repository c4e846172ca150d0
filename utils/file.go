package utils

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SanitizeFilename removes or replaces problematic characters from filenames.
// Also used for workspace names when they become quarantine directory names.
func SanitizeFilename(filename string) string {
	// Remove path separators
	filename = filepath.Base(filename)

	// Replace problematic characters
	replacer := strings.NewReplacer(
		"<", "_",
		">", "_",
		":", "_",
		"\"", "_",
		"|", "_",
		"?", "_",
		"*", "_",
	)
	return replacer.Replace(filename)
}

// DeduplicateFilename generates a unique filename using macOS-style naming (e.g., "photo 2.jpg")
func DeduplicateFilename(dir, filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	result := filename
	counter := 2

	for {
		fullPath := filepath.Join(dir, result)
		if _, err := os.Stat(fullPath); os.IsNotExist(err) {
			return result
		}
		result = base + " " + strconv.Itoa(counter) + ext
		counter++
	}
}
