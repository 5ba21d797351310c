package backend

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// UploadRequest describes one multipart upload to upload-registration.
// Progress, when set, receives the number of file bytes written so far.
type UploadRequest struct {
	DocumentTypeID int
	Email          string
	FileName       string
	ContentType    string
	Content        io.Reader
	Progress       func(written int64)
}

// UploadedDocument is the document part of the upload response.
type UploadedDocument struct {
	ID              int   `json:"id"`
	IsPDFConverted  bool  `json:"is_pdf_converted"`
	ConvertedImages []any `json:"converted_images"`
}

// UploadRegistrationDocument streams the file to the backend. The multipart
// body is produced through a pipe so progress reflects bytes handed to the
// transport rather than a timer.
func (c *Client) UploadRegistrationDocument(ctx context.Context, in UploadRequest) (*UploadedDocument, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeUploadBody(mw, in)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathUploadDocument, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var out struct {
		Document UploadedDocument `json:"document"`
	}
	if err := c.roundTrip(req, &out); err != nil {
		return nil, err
	}
	return &out.Document, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeUploadBody(mw *multipart.Writer, in UploadRequest) error {
	if err := mw.WriteField("document_type_id", strconv.Itoa(in.DocumentTypeID)); err != nil {
		return err
	}
	if err := mw.WriteField("user_email", in.Email); err != nil {
		return err
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file_upload"; filename="%s"`, quoteEscaper.Replace(in.FileName)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	var dst io.Writer = part
	if in.Progress != nil {
		dst = &progressWriter{w: part, report: in.Progress}
	}
	if _, err := io.Copy(dst, in.Content); err != nil {
		return fmt.Errorf("copy file: %w", err)
	}
	return nil
}

type progressWriter struct {
	w       io.Writer
	written int64
	report  func(int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	p.report(p.written)
	return n, err
}
