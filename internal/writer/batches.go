package writer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/parquet-go/parquet-go"

	"github.com/lamim/skipdoc/internal/batch"
)

// Format is an export file format
type Format string

const (
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ParseFormat validates an export format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSONL, FormatParquet:
		return f, nil
	case "":
		return FormatJSONL, nil
	}
	return "", fmt.Errorf("unknown export format %q (want jsonl or parquet)", s)
}

// BatchWriter persists batches of one split
type BatchWriter interface {
	WriteBatch(b *batch.Batch) error
	Close() error
}

// NewBatchWriter creates the writer for format at path
func NewBatchWriter(path string, format Format) (BatchWriter, error) {
	switch format {
	case FormatJSONL:
		return newJSONLWriter(path)
	case FormatParquet:
		return newParquetWriter(path)
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

// jsonlWriter writes one batch per line
type jsonlWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

func newJSONLWriter(path string) (*jsonlWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch file: %w", err)
	}
	buf := bufio.NewWriterSize(file, 64*1024)
	return &jsonlWriter{file: file, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (w *jsonlWriter) WriteBatch(b *batch.Batch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(b); err != nil {
		return fmt.Errorf("failed to write batch %d: %w", b.Index, err)
	}
	return nil
}

func (w *jsonlWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush batch file: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to sync batch file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close batch file: %w", err)
	}
	return nil
}

// ExampleRow is the Parquet layout: one padded example per row
type ExampleRow struct {
	Split         string  `parquet:"split"`
	Epoch         int32   `parquet:"epoch"`
	Batch         int32   `parquet:"batch"`
	RecordID      string  `parquet:"record_id"`
	InputIDs      []int32 `parquet:"input_ids"`
	AttentionMask []int32 `parquet:"attention_mask"`
	MaskPos       int32   `parquet:"mask_pos"`
	Labels        []int32 `parquet:"labels"`
	DecoderIDs    []int32 `parquet:"decoder_input_ids"`
	DecoderMask   []int32 `parquet:"decoder_attention_mask"`
}

// Rows flattens a batch into Parquet rows
func Rows(b *batch.Batch) []ExampleRow {
	rows := make([]ExampleRow, b.Size())
	for i := range rows {
		rows[i] = ExampleRow{
			Split:         string(b.Split),
			Epoch:         int32(b.Epoch),
			Batch:         int32(b.Index),
			RecordID:      b.RecordIDs[i],
			InputIDs:      int32s(b.InputIDs[i]),
			AttentionMask: int32s(b.AttentionMask[i]),
			MaskPos:       int32(b.MaskPos[i]),
		}
		if b.Labels != nil {
			rows[i].Labels = int32s(b.Labels[i])
		}
		if b.DecoderIDs != nil {
			rows[i].DecoderIDs = int32s(b.DecoderIDs[i])
			rows[i].DecoderMask = int32s(b.DecoderMask[i])
		}
	}
	return rows
}

func int32s(v []int) []int32 {
	out := make([]int32, len(v))
	for i, x := range v {
		out[i] = int32(x)
	}
	return out
}

type parquetWriter struct {
	mu   sync.Mutex
	file *os.File
	pw   *parquet.GenericWriter[ExampleRow]
}

func newParquetWriter(path string) (*parquetWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch file: %w", err)
	}
	return &parquetWriter{file: file, pw: parquet.NewGenericWriter[ExampleRow](file)}, nil
}

func (w *parquetWriter) WriteBatch(b *batch.Batch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.pw.Write(Rows(b)); err != nil {
		return fmt.Errorf("failed to write batch %d: %w", b.Index, err)
	}
	return nil
}

func (w *parquetWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.pw.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close batch file: %w", err)
	}
	return nil
}
