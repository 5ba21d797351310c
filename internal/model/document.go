package model

import (
	"time"
)

// DocumentStatus describes the upload lifecycle of a selected file.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentConverting DocumentStatus = "converting"
	DocumentUploading  DocumentStatus = "uploading"
	DocumentSuccess    DocumentStatus = "success"
	DocumentError      DocumentStatus = "error"
)

// DocumentType is a server-defined requirement. AllowedExtensions is always
// the normalized form: lower case, no leading dot, in server order.
type DocumentType struct {
	ID                int      `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	IsRequired        bool     `json:"is_required"`
	AllowedExtensions []string `json:"allowed_file_types"`
	MaxFileSizeMB     float64  `json:"max_file_size_mb"`
	MaxPages          *int     `json:"max_pages,omitempty"`
}

// Allows reports whether ext (with or without a leading dot) is accepted.
func (t DocumentType) Allows(ext string) bool {
	ext = normalizeExt(ext)
	for _, allowed := range t.AllowedExtensions {
		if allowed == ext {
			return true
		}
	}
	return false
}

// MaxBytes converts the megabyte limit into bytes.
func (t DocumentType) MaxBytes() int64 {
	return int64(t.MaxFileSizeMB * 1024 * 1024)
}

// Document is a file selected for a requirement.
type Document struct {
	ID               string         `json:"id"`
	DocumentTypeID   int            `json:"document_type_id"`
	FileName         string         `json:"file_name"`
	Size             int64          `json:"size"`
	ContentType      string         `json:"content_type,omitempty"`
	ObjectKey        string         `json:"-"`
	Status           DocumentStatus `json:"status"`
	Progress         int            `json:"progress"`
	Error            string         `json:"error,omitempty"`
	ServerDocumentID *int           `json:"server_document_id,omitempty"`
	Pages            int            `json:"pages,omitempty"`
	Position         int            `json:"position"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
