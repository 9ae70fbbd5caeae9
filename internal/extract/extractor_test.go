package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type mockOCR struct {
	text  string
	err   error
	calls int
}

func (m *mockOCR) PDFToText(ctx context.Context, pdf []byte) (string, error) {
	m.calls++
	return m.text, m.err
}

func newTestExtractor(ocr *mockOCR, pdf func([]byte) (string, error)) *Extractor {
	e := New(ocr)
	if pdf != nil {
		e.pdfText = pdf
	}
	return e
}

func TestExtractUnsupportedFormat(t *testing.T) {
	ocr := &mockOCR{}
	e := newTestExtractor(ocr, nil)

	for _, name := range []string{"malware.exe", "photo.PNG", "archivo", "data.csv"} {
		_, err := e.Extract(context.Background(), name, []byte("x"))
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("Extract(%q) err = %v, want ErrUnsupportedFormat", name, err)
		}
	}
	if ocr.calls != 0 {
		t.Fatalf("ocr invoked %d times for unsupported formats", ocr.calls)
	}
}

func TestExtractTxt(t *testing.T) {
	e := newTestExtractor(&mockOCR{}, nil)

	got, err := e.Extract(context.Background(), "NOTA.TXT", []byte("  hola mundo \xff\xfe legal \n"))
	if err != nil {
		t.Fatalf("extract txt: %v", err)
	}
	if got != "hola mundo  legal" {
		t.Errorf("txt text = %q", got)
	}
}

func TestExtractPdfDirectSufficient(t *testing.T) {
	long := strings.Repeat("constitución ", 20)
	ocr := &mockOCR{text: "should not be used"}
	e := newTestExtractor(ocr, func([]byte) (string, error) { return "  " + long + "  ", nil })

	got, err := e.Extract(context.Background(), "ley.pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("extract pdf: %v", err)
	}
	if got != strings.TrimSpace(long) {
		t.Errorf("pdf text = %q", got)
	}
	if ocr.calls != 0 {
		t.Fatalf("ocr invoked %d times for a text pdf", ocr.calls)
	}
}

func TestExtractPdfShortTextTriggersOCR(t *testing.T) {
	ocr := &mockOCR{text: "texto reconocido por ocr"}
	e := newTestExtractor(ocr, func([]byte) (string, error) { return "   p. 1   ", nil })

	got, err := e.Extract(context.Background(), "escaneo.pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("extract pdf: %v", err)
	}
	if got != "texto reconocido por ocr" {
		t.Errorf("pdf text = %q", got)
	}
	if ocr.calls != 1 {
		t.Fatalf("ocr invoked %d times, want 1", ocr.calls)
	}
}

func TestExtractPdfDirectError(t *testing.T) {
	ocr := &mockOCR{}
	e := newTestExtractor(ocr, func([]byte) (string, error) { return "", errors.New("broken xref") })

	got, err := e.Extract(context.Background(), "roto.pdf", []byte("junk"))
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
	if got != "" {
		t.Fatalf("expected no partial text, got %q", got)
	}
	if ocr.calls != 0 {
		t.Fatalf("ocr invoked after a parse failure")
	}
}

func TestExtractOCRFailureFailsWholeDocument(t *testing.T) {
	ocr := &mockOCR{err: errors.New("tesseract crashed")}
	e := newTestExtractor(ocr, func([]byte) (string, error) { return "", nil })

	got, err := e.Extract(context.Background(), "escaneo.pdf", []byte("%PDF"))
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
	if got != "" {
		t.Fatalf("expected no partial text, got %q", got)
	}
}

func TestExtractDocx(t *testing.T) {
	e := New(&mockOCR{})
	e.docxText = func([]byte) (string, error) { return "párrafo uno\npárrafo dos\n", nil }

	got, err := e.Extract(context.Background(), "Escrito.DOCX", []byte("PK"))
	if err != nil {
		t.Fatalf("extract docx: %v", err)
	}
	if got != "párrafo uno\npárrafo dos" {
		t.Errorf("docx text = %q", got)
	}
}

func TestSupported(t *testing.T) {
	cases := map[string]bool{
		"a.pdf":  true,
		"b.DOCX": true,
		"c.Txt":  true,
		"d.md":   false,
		"e":      false,
	}
	for name, want := range cases {
		if got := Supported(name); got != want {
			t.Errorf("Supported(%q) = %v, want %v", name, got, want)
		}
	}
}
