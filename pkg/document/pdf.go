// Package document inspects uploaded study documents before they are stored.
package document

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

var (
	ErrNotPDF  = errors.New("file is not a PDF document")
	ErrNoPages = errors.New("PDF has no pages")
)

// Info summarises a parsed PDF.
type Info struct {
	Pages int
}

// InspectPDF parses data as a PDF and counts its pages. Corrupt input is
// reported as an error, never a panic.
func InspectPDF(data []byte) (info Info, err error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return Info{}, ErrNotPDF
	}
	defer func() {
		if r := recover(); r != nil {
			info, err = Info{}, fmt.Errorf("%w: %v", ErrNotPDF, r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	pages := reader.NumPage()
	if pages < 1 {
		return Info{}, ErrNoPages
	}
	return Info{Pages: pages}, nil
}
