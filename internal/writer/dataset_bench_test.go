package writer

import (
	"path/filepath"
	"testing"

	"github.com/lamim/skipdoc/internal/batch"
	"github.com/lamim/skipdoc/pkg/models"
)

func benchBatch() *batch.Batch {
	const n, seq = 16, 128
	b := &batch.Batch{Split: models.SplitTrain}
	for i := 0; i < n; i++ {
		row := make([]int, seq)
		mask := make([]int, seq)
		for j := range row {
			row[j] = 10 + i*seq + j
			mask[j] = 1
		}
		b.RecordIDs = append(b.RecordIDs, "rec")
		b.InputIDs = append(b.InputIDs, row)
		b.AttentionMask = append(b.AttentionMask, mask)
		b.Labels = append(b.Labels, row)
		b.MaskPos = append(b.MaskPos, seq-1)
	}
	return b
}

func benchmarkWriter(b *testing.B, format Format) {
	w, err := NewBatchWriter(filepath.Join(b.TempDir(), "train."+string(format)), format)
	if err != nil {
		b.Fatal(err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			b.Fatal(err)
		}
	}()

	bt := benchBatch()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bt.Index = i
		if err := w.WriteBatch(bt); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
}

func BenchmarkJSONLWriter_WriteBatch(b *testing.B) {
	benchmarkWriter(b, FormatJSONL)
}

func BenchmarkParquetWriter_WriteBatch(b *testing.B) {
	benchmarkWriter(b, FormatParquet)
}
