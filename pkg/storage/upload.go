package storage

import (
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const maxFilenameLength = 100

// ObjectKey builds a unique key for an uploaded file: resources/YYYY/MM/<id8>-<name>.
func ObjectKey(now time.Time, filename string) string {
	now = now.UTC()
	dir := fmt.Sprintf("resources/%04d/%02d", now.Year(), int(now.Month()))
	return path.Join(dir, fmt.Sprintf("%s-%s", uuid.NewString()[:8], SanitizeFilename(filename)))
}

// SanitizeFilename strips directories and replaces characters outside [A-Za-z0-9._-].
func SanitizeFilename(filename string) string {
	filename = filepath.Base(filepath.ToSlash(filename))
	if filename == "." || filename == "/" {
		filename = ""
	}

	result := make([]byte, 0, len(filename))
	for i := 0; i < len(filename); i++ {
		c := filename[i]
		if isAllowedFilenameChar(c) {
			result = append(result, c)
		} else {
			result = append(result, '_')
		}
	}

	if len(result) == 0 {
		return "file"
	}
	if len(result) > maxFilenameLength {
		ext := filepath.Ext(string(result))
		if len(ext) > 0 && len(ext) < 10 {
			result = append(result[:maxFilenameLength-len(ext)], ext...)
		} else {
			result = result[:maxFilenameLength]
		}
	}
	return string(result)
}

func isAllowedFilenameChar(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.'
}
