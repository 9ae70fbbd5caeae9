package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/unidoc/unioffice/document"
	pdfextractor "github.com/unidoc/unipdf/v3/extractor"
	pdfmodel "github.com/unidoc/unipdf/v3/model"
)

var (
	// ErrUnsupportedFormat is returned for extensions outside pdf/docx/txt.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrExtraction is returned when an extraction library or the OCR
	// engine fails. No partial text is ever returned alongside it.
	ErrExtraction = errors.New("text extraction failed")
)

// ocrThreshold is the minimum trimmed length of directly extracted PDF
// text; anything shorter is treated as a scanned document.
const ocrThreshold = 100

// OCREngine converts a PDF that carries no usable text layer into text.
type OCREngine interface {
	PDFToText(ctx context.Context, pdf []byte) (string, error)
}

// Extractor converts uploaded file bytes into plain text, dispatching on
// the filename extension.
type Extractor struct {
	ocr OCREngine

	// overridable in tests; default to the unidoc-backed implementations
	pdfText  func([]byte) (string, error)
	docxText func([]byte) (string, error)
}

func New(ocr OCREngine) *Extractor {
	return &Extractor{
		ocr:      ocr,
		pdfText:  pdfText,
		docxText: docxText,
	}
}

// Supported reports whether the filename's extension is one the
// extractor understands. The check is case-insensitive.
func Supported(filename string) bool {
	switch normalizeExt(filename) {
	case "pdf", "docx", "txt":
		return true
	}
	return false
}

// Extract returns the trimmed plain text of the given file. PDFs whose
// direct text layer is shorter than the threshold fall back to OCR on
// the original bytes.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	switch normalizeExt(filename) {
	case "pdf":
		text, err := e.pdfText(data)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrExtraction, filename, err)
		}
		if len(strings.TrimSpace(text)) < ocrThreshold {
			log.Printf("direct text from %q insufficient, falling back to OCR", filename)
			text, err = e.ocr.PDFToText(ctx, data)
			if err != nil {
				return "", fmt.Errorf("%w: %s: %v", ErrExtraction, filename, err)
			}
		}
		return strings.TrimSpace(text), nil
	case "docx":
		text, err := e.docxText(data)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrExtraction, filename, err)
		}
		return strings.TrimSpace(text), nil
	case "txt":
		return strings.TrimSpace(strings.ToValidUTF8(string(data), "")), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}

func normalizeExt(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// pdfText extracts the text layer of every page in order.
func pdfText(data []byte) (string, error) {
	reader, err := pdfmodel.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	numPages, err := reader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("pdf page count: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := reader.GetPage(i)
		if err != nil {
			return "", fmt.Errorf("pdf page %d: %w", i, err)
		}
		ex, err := pdfextractor.New(page)
		if err != nil {
			return "", fmt.Errorf("pdf extractor page %d: %w", i, err)
		}
		text, err := ex.ExtractText()
		if err != nil {
			return "", fmt.Errorf("pdf text page %d: %w", i, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// docxText concatenates the text of every paragraph in document order.
func docxText(data []byte) (string, error) {
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer doc.Close()

	var lines []string
	for _, para := range doc.Paragraphs() {
		var sb strings.Builder
		for _, run := range para.Runs() {
			sb.WriteString(run.Text())
		}
		lines = append(lines, sb.String())
	}
	return strings.Join(lines, "\n"), nil
}
