package pdfutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	pdf "github.com/ledongthuc/pdf"
)

// HeaderWindow is how far into a file the %PDF marker may appear.
const HeaderWindow = 1024

// ErrNotPDF is returned when the %PDF marker is missing from the header window.
var ErrNotPDF = errors.New("missing %PDF header")

// HasHeader reports whether data carries the %PDF marker within HeaderWindow bytes.
func HasHeader(data []byte) bool {
	head := data
	if len(head) > HeaderWindow {
		head = head[:HeaderWindow]
	}
	return bytes.Contains(head, []byte("%PDF"))
}

// PageCount reads PDF bytes and returns the number of pages using ledongthuc/pdf.
// The parser panics on some malformed inputs; those surface as errors.
func PageCount(data []byte) (n int, err error) {
	if !HasHeader(data) {
		return 0, ErrNotPDF
	}
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("parse pdf: %v", r)
		}
	}()
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("new pdf reader: %w", err)
	}
	return doc.NumPage(), nil
}

// PageCountFromReader drains the reader before passing along to PageCount.
func PageCountFromReader(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	return PageCount(data)
}
