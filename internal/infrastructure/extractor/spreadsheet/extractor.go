package spreadsheet

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/medibot/internal/core/ports"
)

// Extractor renders every sheet of an XLSX workbook as tab-separated rows,
// preceded by the sheet name.
type Extractor struct {
	storage ports.CorpusStorage
}

func NewExtractor(storage ports.CorpusStorage) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) Extract(ctx context.Context, key string) (string, error) {
	reader, err := e.storage.Open(ctx, key)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	book, err := excelize.OpenReader(reader)
	if err != nil {
		return "", fmt.Errorf("parse workbook %s: %w", key, err)
	}
	defer book.Close()

	var b strings.Builder
	for _, sheet := range book.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q of %s: %w", sheet, key, err)
		}
		if len(rows) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(sheet)
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if line == "" {
				continue
			}
			b.WriteString("\n")
			b.WriteString(line)
		}
	}
	return b.String(), nil
}
