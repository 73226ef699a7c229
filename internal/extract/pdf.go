package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// maxPDFBytes bounds the downloaded document size.
const maxPDFBytes = 50 << 20

// ErrNoText means the document opened cleanly but contained no extractable
// text, typically a scanned-image PDF.
var ErrNoText = errors.New("no text extracted from pdf")

// PDFExtractor downloads PDF documents and extracts their plain text.
type PDFExtractor struct {
	httpClient *http.Client
}

// NewPDFExtractor creates an extractor. A nil client gets a default with a
// generous timeout since documents can be large.
func NewPDFExtractor(client *http.Client) *PDFExtractor {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &PDFExtractor{httpClient: client}
}

// ExtractURL downloads the document and returns its normalized text.
func (e *PDFExtractor) ExtractURL(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download pdf: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download pdf: status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "digestly-pdf-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, io.LimitReader(resp.Body, maxPDFBytes)); err != nil {
		return "", fmt.Errorf("save pdf: %w", err)
	}
	return FromFile(tmp.Name())
}

// FromFile extracts normalized plain text from a PDF on disk. Problematic
// pages are skipped rather than failing the whole document.
func FromFile(path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	var pages []string
	totalPages := reader.NumPage()
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = normalizeText(text)
		if text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return "", ErrNoText
	}
	return strings.Join(pages, "\n"), nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}
