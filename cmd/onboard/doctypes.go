package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chefsync/onboarding/internal/apperr"
	"github.com/chefsync/onboarding/internal/intake"
	"github.com/chefsync/onboarding/internal/model"
	pdfutil "github.com/chefsync/onboarding/internal/pdf"
	"github.com/chefsync/onboarding/internal/storage"
)

func newDocTypesCmd(c *cli) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "doc-types",
		Short: "List the documents a role has to upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := model.Role(role)
			if !r.RequiresDocuments() {
				return fmt.Errorf("--role must be cook or delivery_agent")
			}
			types, err := c.backend().ListDocumentTypes(cmd.Context(), r)
			if err != nil {
				return fmt.Errorf("list document types: %s", apperr.Message(err))
			}
			out := cmd.OutOrStdout()
			for _, dt := range types {
				req := "optional"
				if dt.IsRequired {
					req = "required"
				}
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%gMB", dt.ID, dt.Name, req, strings.Join(dt.AllowedExtensions, ","), dt.MaxFileSizeMB)
				if dt.MaxPages != nil {
					fmt.Fprintf(out, "\tmax %d pages", *dt.MaxPages)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "cook", "cook or delivery_agent")
	return cmd
}

func newCheckFileCmd(c *cli) *cobra.Command {
	var (
		role      string
		typeID    int
		renderDir string
	)
	cmd := &cobra.Command{
		Use:   "check-file <path>",
		Short: "Check a file against a document requirement without uploading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := model.Role(role)
			if !r.RequiresDocuments() {
				return fmt.Errorf("--role must be cook or delivery_agent")
			}
			types, err := c.backend().ListDocumentTypes(cmd.Context(), r)
			if err != nil {
				return fmt.Errorf("list document types: %s", apperr.Message(err))
			}
			var dt *model.DocumentType
			for i := range types {
				if types[i].ID == typeID {
					dt = &types[i]
				}
			}
			if dt == nil {
				return fmt.Errorf("no document type %d for %s", typeID, role)
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			in := intake.New(storage.NewMemoryBlobs(), nil,
				intake.WithLogger(c.log.Named("intake")),
				intake.WithMaxPDFPages(c.cfg.MaxPDFPages))
			doc, err := in.Stage(cmd.Context(), "check", *dt, intake.Selection{
				DocumentTypeID: dt.ID,
				FileName:       filepath.Base(args[0]),
				Data:           data,
			}, 0)
			if err != nil {
				return err
			}
			if doc.Status == model.DocumentError {
				return fmt.Errorf("%s", doc.Error)
			}
			msg := fmt.Sprintf("%s is acceptable for %s", doc.FileName, dt.Name)
			if doc.Pages > 0 {
				msg += fmt.Sprintf(" (%d pages)", doc.Pages)
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			if renderDir == "" || intake.Extension(doc.FileName) != "pdf" {
				return nil
			}
			return renderPages(cmd, data, doc.FileName, renderDir, c.cfg.MaxPDFPages)
		},
	}
	cmd.Flags().StringVar(&role, "role", "cook", "cook or delivery_agent")
	cmd.Flags().IntVar(&typeID, "type", 0, "Document type id from doc-types")
	cmd.Flags().StringVar(&renderDir, "render", "", "Also render PDF pages as PNG images into this directory")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// renderPages writes each page as <stem>_page_<n>.png, the names used when
// PDFs are converted before upload.
func renderPages(cmd *cobra.Command, data []byte, name, dir string, maxPages int) error {
	pages, err := pdfutil.Renderer{MaxPages: maxPages}.Convert(cmd.Context(), data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create render dir: %w", err)
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	for _, pg := range pages {
		out := filepath.Join(dir, fmt.Sprintf("%s_page_%d.png", stem, pg.Number))
		if err := os.WriteFile(out, pg.PNG, 0o644); err != nil {
			return fmt.Errorf("write page %d: %w", pg.Number, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	}
	return nil
}
