package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chefsync/onboarding/internal/model"
)

type wireDocumentType struct {
	ID               int             `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	IsRequired       bool            `json:"is_required"`
	AllowedFileTypes json.RawMessage `json:"allowed_file_types"`
	MaxFileSizeMB    float64         `json:"max_file_size_mb"`
	IsSinglePageOnly bool            `json:"is_single_page_only"`
	MaxPages         *int            `json:"max_pages"`
}

// parseDocumentTypes accepts either a bare array or an envelope with a
// document_types (or paginated results) key, and normalizes
// allowed_file_types from a comma separated string or an array.
func parseDocumentTypes(body []byte) ([]model.DocumentType, error) {
	body = bytes.TrimSpace(body)
	var wire []wireDocumentType
	switch {
	case len(body) == 0:
		return nil, errors.New("empty document types body")
	case body[0] == '[':
		if err := json.Unmarshal(body, &wire); err != nil {
			return nil, fmt.Errorf("decode document types: %w", err)
		}
	default:
		var envelope struct {
			DocumentTypes []wireDocumentType `json:"document_types"`
			Results       []wireDocumentType `json:"results"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("decode document types: %w", err)
		}
		wire = envelope.DocumentTypes
		if wire == nil {
			wire = envelope.Results
		}
	}
	out := make([]model.DocumentType, 0, len(wire))
	for _, w := range wire {
		allowed, err := parseAllowedFileTypes(w.AllowedFileTypes)
		if err != nil {
			return nil, fmt.Errorf("document type %d: %w", w.ID, err)
		}
		maxPages := w.MaxPages
		if maxPages == nil && w.IsSinglePageOnly {
			one := 1
			maxPages = &one
		}
		out = append(out, model.DocumentType{
			ID:                w.ID,
			Name:              w.Name,
			Description:       w.Description,
			IsRequired:        w.IsRequired,
			AllowedExtensions: allowed,
			MaxFileSizeMB:     w.MaxFileSizeMB,
			MaxPages:          maxPages,
		})
	}
	return out, nil
}

func parseAllowedFileTypes(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return model.NormalizeExtensions(list), nil
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return nil, fmt.Errorf("allowed_file_types: unsupported shape %s", string(raw))
	}
	return model.NormalizeExtensions(strings.Split(joined, ",")), nil
}
