// Package pdftext extracts plain text from uploaded PDF files.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

// MediaType is the media type of a PDF document.
const MediaType = "application/pdf"

// ErrNotPDF is returned when the data does not look like a PDF.
var ErrNotPDF = errors.New("file is not a PDF")

// Result is the text of a PDF and its page count.
type Result struct {
	Text      string
	PageCount int
}

// IsPDF reports whether filename has a .pdf extension, in any case.
func IsPDF(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

// Sniff detects the media type of data from its content.
func Sniff(data []byte) string {
	return mimetype.Detect(data).String()
}

// LooksLikePDF reports whether data starts like a PDF file.
func LooksLikePDF(data []byte) bool {
	return mimetype.Detect(data).Is(MediaType)
}

// Extract reads every page of the PDF in data and returns the text of the
// pages joined by newlines. Pages without content are counted but add no text.
func Extract(data []byte) (res Result, err error) {
	if !LooksLikePDF(data) {
		return Result{}, ErrNotPDF
	}

	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("parsing PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("creating PDF reader: %w", err)
	}

	n := r.NumPage()
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return Result{}, fmt.Errorf("reading page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}

	return Result{Text: strings.Join(pages, "\n"), PageCount: n}, nil
}
