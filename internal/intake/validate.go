package intake

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/chefsync/onboarding/internal/apperr"
	"github.com/chefsync/onboarding/internal/model"
)

const bytesPerMB = 1024 * 1024

// Validate checks a selected file against its requirement. It is pure: the
// same inputs always give the same answer.
func Validate(name string, size int64, dt model.DocumentType) error {
	name = strings.TrimSpace(name)
	switch {
	case size <= 0:
		return reject("The selected file is empty. Please choose another file.")
	case name == "":
		return reject("The selected file has no name.")
	}
	ext := Extension(name)
	if ext == "" {
		return reject("File must have an extension such as .pdf, .jpg or .png.")
	}
	if dt.MaxFileSizeMB > 0 && size > dt.MaxBytes() {
		return reject(fmt.Sprintf("File size (%.2f MB) exceeds maximum allowed size (%s MB).",
			float64(size)/bytesPerMB, formatMB(dt.MaxFileSizeMB)))
	}
	if !dt.Allows(ext) {
		return reject(fmt.Sprintf("File type '.%s' is not allowed. Please upload a file with one of these formats: %s",
			ext, allowedList(dt.AllowedExtensions)))
	}
	return nil
}

// CheckSignature compares leading bytes with the claimed extension for the
// formats whose signatures are known.
func CheckSignature(ext string, data []byte) error {
	var ok bool
	switch ext {
	case "pdf":
		return nil
	case "jpg", "jpeg":
		ok = bytes.HasPrefix(data, []byte{0xff, 0xd8})
	case "png":
		ok = bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n"))
	default:
		return nil
	}
	if !ok {
		return reject(fmt.Sprintf("File content does not match its .%s extension.", ext))
	}
	return nil
}

// Extension returns the lower-case extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

func allowedList(exts []string) string {
	if len(exts) == 0 {
		return "(none)"
	}
	dotted := make([]string, len(exts))
	for i, e := range exts {
		dotted[i] = "." + e
	}
	return strings.Join(dotted, ", ")
}

func formatMB(mb float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", mb), "0"), ".")
}

func reject(msg string) error {
	return apperr.Validation(msg, map[string][]string{"file": {msg}})
}
