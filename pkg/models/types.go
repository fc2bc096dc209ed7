package models

// SplitName identifies one subset of a split corpus
type SplitName string

const (
	// SplitTrain is the subset used for teacher-forced training
	SplitTrain SplitName = "train"
	// SplitValidation is evaluated by generation during training
	SplitValidation SplitName = "validation"
	// SplitTest is held out until the end
	SplitTest SplitName = "test"
)

// Splits lists every split name in canonical order
var Splits = []SplitName{SplitTrain, SplitValidation, SplitTest}

// Valid reports whether s is one of the canonical split names
func (s SplitName) Valid() bool {
	switch s {
	case SplitTrain, SplitValidation, SplitTest:
		return true
	}
	return false
}

// Well-known placeholder names a template may reference besides raw columns.
const (
	FieldID      = "id"
	FieldContent = "text_a"
	FieldLabel   = "label"
)

// Record represents a single cleaned corpus row
type Record struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Label    string            `json:"label,omitempty"`
	HasLabel bool              `json:"-"`
	Fields   map[string]string `json:"fields,omitempty"` // every non-missing source column, by header name
}

// Field resolves a template placeholder against the record.
// "id", "text_a" and "label" map to the record's own attributes; any other
// name is looked up among the source columns.
func (r Record) Field(name string) (string, bool) {
	switch name {
	case FieldID:
		return r.ID, true
	case FieldContent:
		return r.Content, true
	case FieldLabel:
		if r.HasLabel {
			return r.Label, true
		}
		return "", false
	}
	v, ok := r.Fields[name]
	return v, ok
}
