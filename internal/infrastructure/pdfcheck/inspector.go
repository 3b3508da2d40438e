package pdfcheck

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// Inspector validates report PDFs by parsing their page tree.
type Inspector struct{}

func New() *Inspector {
	return &Inspector{}
}

// PageCount parses data and returns its page count. The parser panics on some malformed
// inputs, so panics are turned into errors.
func (i *Inspector) PageCount(data []byte) (pages int, err error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return 0, fmt.Errorf("missing pdf header")
	}
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	return reader.NumPage(), nil
}
