package extract

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log"
	"os"

	"github.com/gen2brain/go-fitz"
	"github.com/otiai10/gosseract/v2"
)

const ocrDPI = 200

// TesseractOCR rasterizes a PDF page by page and runs Tesseract over
// each page image. A single page failure aborts the whole document.
type TesseractOCR struct {
	languages []string
}

func NewTesseractOCR() *TesseractOCR {
	return &TesseractOCR{languages: []string{"spa", "eng"}}
}

// PDFToText implements OCREngine. The PDF bytes are staged in a
// temporary file (the rasterizer reads from disk) which is removed on
// every exit path.
func (t *TesseractOCR) PDFToText(ctx context.Context, pdf []byte) (string, error) {
	tmp, err := os.CreateTemp("", "legalchat-ocr-*.pdf")
	if err != nil {
		return "", fmt.Errorf("stage pdf for ocr: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(pdf); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write staged pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close staged pdf: %w", err)
	}

	doc, err := fitz.New(tmpPath)
	if err != nil {
		return "", fmt.Errorf("open pdf for rasterization: %w", err)
	}
	defer doc.Close()

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("set ocr languages: %w", err)
	}

	total := doc.NumPage()
	var out bytes.Buffer
	for n := 0; n < total; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		log.Printf("ocr: processing page %d/%d", n+1, total)

		img, err := doc.ImageDPI(n, ocrDPI)
		if err != nil {
			return "", fmt.Errorf("rasterize page %d: %w", n+1, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return "", fmt.Errorf("encode page %d: %w", n+1, err)
		}
		if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
			return "", fmt.Errorf("load page %d into ocr: %w", n+1, err)
		}
		text, err := client.Text()
		if err != nil {
			return "", fmt.Errorf("ocr page %d: %w", n+1, err)
		}
		out.WriteString(text)
		out.WriteString("\n")
	}
	return out.String(), nil
}
