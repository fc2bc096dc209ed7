package prompt

import (
	"fmt"
	"strings"

	"github.com/lamim/skipdoc/pkg/models"
)

// TemplateError reports a malformed template or a placeholder the record cannot resolve
type TemplateError struct {
	Template string
	Offset   int    // byte offset of the offending tag, -1 when not applicable
	RecordID string // set for render failures
	Field    string
	Reason   string
}

func (e *TemplateError) Error() string {
	var b strings.Builder
	b.WriteString("template error")
	if e.RecordID != "" {
		fmt.Fprintf(&b, " for record %q", e.RecordID)
	}
	if e.Offset >= 0 {
		fmt.Fprintf(&b, " at offset %d", e.Offset)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %q)", e.Field)
	}
	return b.String()
}

// RenderedPart is one filled-in template segment
type RenderedPart struct {
	Text        string
	Shortenable bool
	Mask        bool
	Field       string // source field for placeholder parts
}

// RenderedExample is a record rendered through a template
type RenderedExample struct {
	RecordID  string
	Parts     []RenderedPart
	MaskIndex int // index into Parts of the mask slot
	Target    string
	HasTarget bool
	marker    string
}

// Text joins the parts, writing the mask slot as the template's mask marker
func (r *RenderedExample) Text() string {
	var b strings.Builder
	for _, p := range r.Parts {
		if p.Mask {
			b.WriteString(r.maskMarker())
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// MaskOffset returns the byte offset of the mask marker in Text()
func (r *RenderedExample) MaskOffset() int {
	n := 0
	for _, p := range r.Parts[:r.MaskIndex] {
		n += len(p.Text)
	}
	return n
}

func (r *RenderedExample) maskMarker() string {
	if r.marker == "" {
		return DefaultMaskMarker
	}
	return r.marker
}

// Render fills every placeholder of t from rec. A target that is configured
// but absent on the record is not an error; HasTarget reports it.
func (t *Template) Render(rec models.Record) (*RenderedExample, error) {
	ex := &RenderedExample{
		RecordID:  rec.ID,
		Parts:     make([]RenderedPart, len(t.Segments)),
		MaskIndex: t.maskIndex,
		marker:    t.MaskMarker,
	}
	for i, seg := range t.Segments {
		switch seg.Kind {
		case Literal:
			ex.Parts[i] = RenderedPart{Text: seg.Text}
		case Mask:
			ex.Parts[i] = RenderedPart{Mask: true}
		case Placeholder:
			v, ok := rec.Field(seg.Field)
			if !ok {
				return nil, &TemplateError{
					Template: t.Source,
					Offset:   -1,
					RecordID: rec.ID,
					Field:    seg.Field,
					Reason:   "unresolved placeholder",
				}
			}
			ex.Parts[i] = RenderedPart{Text: v, Shortenable: seg.Shortenable, Field: seg.Field}
		}
	}
	if t.Target != "" {
		ex.Target, ex.HasTarget = rec.Field(t.Target)
	}
	return ex, nil
}

// Renderer renders records through a template. It holds no state.
type Renderer struct{}

// Render is t.Render(rec)
func (Renderer) Render(rec models.Record, t *Template) (*RenderedExample, error) {
	if t == nil {
		return nil, &TemplateError{Offset: -1, RecordID: rec.ID, Reason: "nil template"}
	}
	return t.Render(rec)
}
