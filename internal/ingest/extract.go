package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	ragerr "github.com/ragkb/ragkb/internal/errors"
)

// Extraction is the text pulled out of an uploaded blob, plus a metadata
// tag describing how it was read.
type Extraction struct {
	Text     string
	MetaJSON string
}

// extractText turns raw file bytes into plain text. PDFs go through the
// pdf reader page by page; everything else is treated as UTF-8 text with
// invalid bytes replaced.
func extractText(filename, contentType string, data []byte) (Extraction, error) {
	if isPDF(filename, contentType) {
		return extractPDF(data)
	}
	return extractPlainText(data), nil
}

func isPDF(filename, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "pdf") {
		return true
	}
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

func extractPDF(data []byte) (Extraction, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Extraction{}, ragerr.New(ragerr.ErrCodeExtractionFailed,
			fmt.Sprintf("failed to parse pdf: %v", err), err)
	}

	var pages []string
	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		pages = append(pages, text)
	}

	meta, _ := json.Marshal(map[string]any{"type": "pdf", "pages": total})
	return Extraction{
		Text:     strings.Join(pages, "\n"),
		MetaJSON: string(meta),
	}, nil
}

func extractPlainText(data []byte) Extraction {
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	meta, _ := json.Marshal(map[string]any{"type": "text"})
	return Extraction{Text: text, MetaJSON: string(meta)}
}
