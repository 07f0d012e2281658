package cmd

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ragkb/ragkb/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <files...>",
		Short: "Ingest documents into the knowledge base",
		Long: `Upload one or more files to the running service for ingestion.

Supported formats: plain text, markdown, and PDF. Duplicate content
(same bytes under any name) is detected and skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			body, contentType, err := buildUpload(args)
			if err != nil {
				return err
			}

			var summary ingest.Summary
			if err := newAPIClient(cfg).postMultipart(cmd.Context(), "/ingest", contentType, body, &summary); err != nil {
				return err
			}

			p := newPrinter()
			if p.Emit(summary) {
				return nil
			}

			for _, f := range summary.Files {
				switch f.Status {
				case ingest.StatusIngested:
					p.Success("%s: %d chunks, %d vectors", f.Filename, f.Chunks, f.Vectors)
				case ingest.StatusDuplicate:
					p.Warning("%s: duplicate (%s)", f.Filename, f.Detail)
				case ingest.StatusEmpty:
					p.Warning("%s: no extractable text", f.Filename)
				default:
					p.Error("%s: %s", f.Filename, f.Detail)
				}
			}
			p.Line("%d documents, %d chunks, %d vectors added, %d skipped",
				summary.DocumentsAdded, summary.ChunksAdded, summary.VectorsAdded, len(summary.Skipped))
			return nil
		},
	}
}

// buildUpload packs the named files into a multipart body.
func buildUpload(paths []string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
		}
		part, err := writer.CreateFormFile("files", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		f.Close()
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}
