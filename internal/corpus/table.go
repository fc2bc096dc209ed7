package corpus

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/parquet-go/parquet-go"
)

// Format selects the tabular reader
type Format string

const (
	FormatAuto    Format = "auto"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// table is the raw, uncleaned contents of a source file.
// An empty cell means the value is missing.
type table struct {
	header []string
	rows   [][]string
}

func (t *table) column(name string) int {
	for i, h := range t.header {
		if h == name {
			return i
		}
	}
	return -1
}

// resolveFormat picks a reader from the configured format or the file extension
func resolveFormat(path string, format Format) Format {
	if format != "" && format != FormatAuto {
		return format
	}
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return FormatParquet
	}
	return FormatCSV
}

// readTable memory-maps path and decodes it as CSV or Parquet
func readTable(ctx context.Context, path string, format Format, delimiter rune) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IngestionError{Stage: "open", Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &IngestionError{Stage: "open", Path: path, Err: err}
	}
	if info.Size() == 0 {
		return nil, &IngestionError{Stage: "parse", Path: path, Err: errors.New("file is empty")}
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, &IngestionError{Stage: "open", Path: path, Err: fmt.Errorf("mmap: %w", err)}
	}
	defer m.Unmap()

	// Cells are copied out as strings, so nothing references the mapping after return.
	var t *table
	switch resolveFormat(path, format) {
	case FormatParquet:
		t, err = decodeParquet(ctx, m)
	case FormatCSV:
		t, err = decodeCSV(ctx, m, delimiter)
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		var ie *IngestionError
		if errors.As(err, &ie) {
			ie.Path = path
			return nil, ie
		}
		return nil, &IngestionError{Stage: "parse", Path: path, Err: err}
	}
	return t, nil
}

func decodeCSV(ctx context.Context, data []byte, delimiter rune) (*table, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	if delimiter != 0 {
		r.Comma = delimiter
	}

	header, err := r.Read()
	if err == io.EOF {
		return nil, errors.New("missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	t := &table{header: trimAll(header)}
	r.FieldsPerRecord = len(header)

	for row := 2; ; row++ {
		if row%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &IngestionError{Stage: "parse", Line: row, Err: err}
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

func decodeParquet(ctx context.Context, data []byte) (*table, error) {
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &IngestionError{Stage: "parse", Err: err}
	}
	r := parquet.NewReader(f)
	defer r.Close()

	t := &table{}
	for _, path := range r.Schema().Columns() {
		t.header = append(t.header, strings.Join(path, "."))
	}

	buf := make([]parquet.Row, 128)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.ReadRows(buf)
		for _, row := range buf[:n] {
			cells := make([]string, len(t.header))
			for _, v := range row {
				col := v.Column()
				if col < 0 || col >= len(cells) || v.IsNull() {
					continue
				}
				cells[col] = parquetString(v)
			}
			t.rows = append(t.rows, cells)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &IngestionError{Stage: "parse", Line: len(t.rows) + 1, Err: err}
		}
		if n == 0 {
			break
		}
	}
	return t, nil
}

func parquetString(v parquet.Value) string {
	switch v.Kind() {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}

func trimAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
