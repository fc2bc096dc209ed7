package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/lamim/skipdoc/internal/metrics"
	"github.com/lamim/skipdoc/pkg/models"
)

// Config describes where the corpus lives and how its columns map onto records
type Config struct {
	DataPath      string
	LabelsPath    string // optional "label id" file
	IDColumn      string
	ContentColumn string
	LabelColumn   string // optional; takes precedence over the label index
	LabelIDColumn string // column joined against the label index, defaults to IDColumn
	Delimiter     rune
	Format        Format
	ClassFilter   []string // empty means no filtering
}

// Validate checks the configuration before any file is touched
func (c *Config) Validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("data_path is required")
	}
	if c.IDColumn == "" {
		return fmt.Errorf("id_column is required")
	}
	if c.ContentColumn == "" {
		return fmt.Errorf("content_column is required")
	}
	switch c.Format {
	case "", FormatAuto, FormatCSV, FormatParquet:
	default:
		return fmt.Errorf("format must be one of auto, csv, parquet (got %q)", c.Format)
	}
	if c.Delimiter == '\n' || c.Delimiter == '\r' || c.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	return nil
}

// Corpus is the cleaned, ordered record set plus the label index it was joined with.
// It is not modified after Load returns.
type Corpus struct {
	Records []models.Record
	Labels  LabelIndex
}

// Len returns the number of records
func (c *Corpus) Len() int {
	return len(c.Records)
}

// LabelCounts returns the number of records per label; unlabeled records are not counted
func (c *Corpus) LabelCounts() map[string]int {
	counts := make(map[string]int)
	for _, r := range c.Records {
		if r.HasLabel {
			counts[r.Label]++
		}
	}
	return counts
}

// Loader reads and cleans a corpus
type Loader struct {
	cfg    Config
	logger *slog.Logger
	obs    metrics.Observer
}

// NewLoader validates cfg and creates a loader
func NewLoader(cfg Config, logger *slog.Logger, obs metrics.Observer) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid corpus config: %w", err)
	}
	if cfg.LabelIDColumn == "" {
		cfg.LabelIDColumn = cfg.IDColumn
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cfg: cfg, logger: logger, obs: metrics.OrNop(obs)}, nil
}

// Load reads the data and label files, applies the class filter and then
// drops rows whose content is missing. Identifiers must be unique and
// non-blank among the rows that remain.
func (l *Loader) Load(ctx context.Context) (*Corpus, error) {
	t, err := readTable(ctx, l.cfg.DataPath, l.cfg.Format, l.cfg.Delimiter)
	if err != nil {
		return nil, err
	}
	l.logger.Info("Read data file", "path", l.cfg.DataPath, "rows", len(t.rows), "columns", len(t.header))
	l.obs.RowsRead("corpus", len(t.rows))

	labels, err := LoadLabelIndex(l.cfg.LabelsPath)
	if err != nil {
		return nil, err
	}
	if len(labels) > 0 {
		l.logger.Info("Read label file", "path", l.cfg.LabelsPath, "labels", len(labels))
		l.obs.RowsRead("labels", len(labels))
	}

	rows, err := l.toRows(t, labels)
	if err != nil {
		return nil, err
	}

	if len(l.cfg.ClassFilter) > 0 {
		before := len(rows)
		rows = filterByClass(rows, l.cfg.ClassFilter)
		if dropped := before - len(rows); dropped > 0 {
			l.obs.RowsDropped("filter", "class", dropped)
		}
		l.logger.Info("Applied class filter", "classes", l.cfg.ClassFilter, "before", before, "after", len(rows))
	}

	before := len(rows)
	rows = clean(rows)
	if dropped := before - len(rows); dropped > 0 {
		l.obs.RowsDropped("clean", "missing_content", dropped)
	}
	l.logger.Info("Cleaned corpus", "before", before, "after", len(rows))

	if err := l.checkIDs(rows); err != nil {
		return nil, err
	}
	records := make([]models.Record, len(rows))
	for i, r := range rows {
		records[i] = r.rec
	}
	return &Corpus{Records: records, Labels: labels}, nil
}

// row is an uncleaned record; content may still be missing
type row struct {
	rec     models.Record
	line    int
	missing bool
}

// checkIDs requires every surviving row to carry a unique, non-blank identifier.
// Rows removed by the class filter or cleaning are not checked.
func (l *Loader) checkIDs(rows []row) error {
	seen := make(map[string]int, len(rows))
	for _, r := range rows {
		id := r.rec.ID
		if id == "" {
			return &IngestionError{Stage: "validate", Path: l.cfg.DataPath, Line: r.line, Err: errors.New("missing identifier")}
		}
		if first, dup := seen[id]; dup {
			return &IngestionError{
				Stage:    "validate",
				Path:     l.cfg.DataPath,
				Line:     r.line,
				RecordID: id,
				Err:      fmt.Errorf("duplicate identifier (first seen on row %d)", first),
			}
		}
		seen[id] = r.line
	}
	return nil
}

func (l *Loader) toRows(t *table, labels LabelIndex) ([]row, error) {
	idCol := t.column(l.cfg.IDColumn)
	if idCol < 0 {
		return nil, l.columnErr(l.cfg.IDColumn)
	}
	contentCol := t.column(l.cfg.ContentColumn)
	if contentCol < 0 {
		return nil, l.columnErr(l.cfg.ContentColumn)
	}
	labelCol := -1
	if l.cfg.LabelColumn != "" {
		labelCol = t.column(l.cfg.LabelColumn)
	}
	joinCol := t.column(l.cfg.LabelIDColumn)
	if joinCol < 0 && len(labels) > 0 {
		return nil, l.columnErr(l.cfg.LabelIDColumn)
	}

	rows := make([]row, 0, len(t.rows))
	for i, cells := range t.rows {
		r := row{line: i + 2} // header is line 1
		r.rec.ID = strings.TrimSpace(cells[idCol])
		r.rec.Fields = make(map[string]string, len(cells))
		for c, v := range cells {
			if v != "" {
				r.rec.Fields[t.header[c]] = v
			}
		}

		content := cells[contentCol]
		if strings.TrimSpace(content) == "" {
			r.missing = true
		} else {
			r.rec.Content = norm.NFC.String(content)
			r.rec.Fields[t.header[contentCol]] = r.rec.Content
		}

		switch {
		case labelCol >= 0 && strings.TrimSpace(cells[labelCol]) != "":
			r.rec.Label, r.rec.HasLabel = strings.TrimSpace(cells[labelCol]), true
		case joinCol >= 0:
			r.rec.Label, r.rec.HasLabel = labels.Lookup(strings.TrimSpace(cells[joinCol]))
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func (l *Loader) columnErr(name string) error {
	return &IngestionError{Stage: "validate", Path: l.cfg.DataPath, Err: fmt.Errorf("column %q not found", name)}
}

// filterByClass keeps rows whose label is one of classes. Unlabeled rows never match.
func filterByClass(rows []row, classes []string) []row {
	accept := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		accept[c] = struct{}{}
	}
	out := rows[:0:0]
	for _, r := range rows {
		if !r.rec.HasLabel {
			continue
		}
		if _, ok := accept[r.rec.Label]; ok {
			out = append(out, r)
		}
	}
	return out
}

// clean drops rows whose content is missing and keeps the rest in order
func clean(rows []row) []row {
	out := make([]row, 0, len(rows))
	for _, r := range rows {
		if r.missing {
			continue
		}
		out = append(out, r)
	}
	return out
}
