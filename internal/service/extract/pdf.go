package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when a PDF has pages but none carry extractable text
// (scanned statements without an OCR layer).
var ErrNoText = errors.New("pdf has no extractable text")

// PDFParser turns PDF bytes into one document holding the plain text of every
// page in order.
type PDFParser struct{}

var _ parser.Parser = PDFParser{}

func (PDFParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) (docs []*schema.Document, err error) {
	options := parser.GetCommonOptions(&parser.Options{}, opts...)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	// the pdf package panics on several classes of malformed input
	defer func() {
		if r := recover(); r != nil {
			docs = nil
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	rdr, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := make([]string, 0, rdr.NumPage())
	for i := 1; i <= rdr.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pg := rdr.Page(i)
		if pg.V.IsNull() {
			continue
		}
		txt, err := pg.GetPlainText(nil)
		if err != nil {
			// image-only or otherwise unreadable page
			continue
		}
		if s := strings.TrimSpace(txt); s != "" {
			pages = append(pages, s)
		}
	}
	if len(pages) == 0 {
		return nil, ErrNoText
	}

	meta := map[string]any{"pages": rdr.NumPage()}
	for k, v := range options.ExtraMeta {
		meta[k] = v
	}
	return []*schema.Document{{
		ID:       options.URI,
		Content:  strings.Join(pages, "\n\n"),
		MetaData: meta,
	}}, nil
}
