package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultMaskMarker is how the mask slot appears in rendered text
const DefaultMaskMarker = "{mask}"

// SegmentKind tags a template segment
type SegmentKind int

const (
	Literal SegmentKind = iota
	Placeholder
	Mask
)

func (k SegmentKind) String() string {
	switch k {
	case Literal:
		return "literal"
	case Placeholder:
		return "placeholder"
	case Mask:
		return "mask"
	}
	return fmt.Sprintf("SegmentKind(%d)", int(k))
}

// Segment is one piece of a template
type Segment struct {
	Kind        SegmentKind
	Text        string // literal text
	Field       string // placeholder field name
	Shortenable bool   // placeholder content may be truncated
}

// Template is a parsed prompt template with exactly one mask slot
type Template struct {
	Source     string
	Segments   []Segment
	Target     string // record field holding the text the mask resolves to; empty for none
	MaskMarker string
	maskIndex  int
}

// Option configures Parse
type Option func(*Template)

// WithTarget names the record field that supplies the mask's target text
func WithTarget(field string) Option {
	return func(t *Template) { t.Target = field }
}

// WithMaskMarker overrides how the mask slot is written by RenderedExample.Text
func WithMaskMarker(marker string) Option {
	return func(t *Template) {
		if marker != "" {
			t.MaskMarker = marker
		}
	}
}

// Parse compiles template text. Tags are written in braces:
//
//	{mask} or {"mask"}                  the mask slot
//	{name} or {name:shortenable}        a record field
//	{"placeholder":"text_a","shortenable":true}
//	{"meta":"focus"}                    a record field, never shortened
//
// "{{" and "}}" produce literal braces.
func Parse(text string, opts ...Option) (*Template, error) {
	t := &Template{Source: text, MaskMarker: DefaultMaskMarker, maskIndex: -1}
	for _, opt := range opts {
		opt(t)
	}

	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.Segments = append(t.Segments, Segment{Kind: Literal, Text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '{' && strings.HasPrefix(text[i:], "{{"):
			lit.WriteByte('{')
			i += 2
		case c == '}' && strings.HasPrefix(text[i:], "}}"):
			lit.WriteByte('}')
			i += 2
		case c == '}':
			return nil, t.errorf(i, "unmatched '}'")
		case c == '{':
			end, err := closingBrace(text, i)
			if err != nil {
				return nil, t.errorf(i, "%v", err)
			}
			seg, err := parseTag(text[i+1 : end])
			if err != nil {
				return nil, t.errorf(i, "%v", err)
			}
			flush()
			if seg.Kind == Mask {
				if t.maskIndex >= 0 {
					return nil, t.errorf(i, "template has more than one mask slot")
				}
				t.maskIndex = len(t.Segments)
			}
			t.Segments = append(t.Segments, seg)
			i = end + 1
		default:
			lit.WriteByte(c)
			i++
		}
	}
	flush()

	if t.maskIndex < 0 {
		return nil, t.errorf(-1, "template has no mask slot")
	}
	return t, nil
}

// MustParse is like Parse but panics on error
func MustParse(text string, opts ...Option) *Template {
	t, err := Parse(text, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// MaskIndex returns the segment index of the mask slot
func (t *Template) MaskIndex() int {
	return t.maskIndex
}

// Fields lists the record fields the template references, in order, without duplicates
func (t *Template) Fields() []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range t.Segments {
		if s.Kind == Placeholder && !seen[s.Field] {
			seen[s.Field] = true
			out = append(out, s.Field)
		}
	}
	return out
}

func (t *Template) String() string {
	return t.Source
}

func (t *Template) errorf(offset int, format string, args ...any) *TemplateError {
	return &TemplateError{Template: t.Source, Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

// closingBrace finds the '}' matching the '{' at start, skipping quoted strings
func closingBrace(text string, start int) (int, error) {
	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unclosed '{'")
}

func parseTag(body string) (Segment, error) {
	body = strings.TrimSpace(body)
	switch body {
	case "":
		return Segment{}, fmt.Errorf("empty tag")
	case "mask", `"mask"`:
		return Segment{Kind: Mask}, nil
	}

	if strings.HasPrefix(body, `"`) {
		return parseJSONTag(body)
	}

	name, modifier, hasModifier := strings.Cut(body, ":")
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t\n{}\"") {
		return Segment{}, fmt.Errorf("invalid placeholder name %q", name)
	}
	seg := Segment{Kind: Placeholder, Field: name}
	if hasModifier {
		if strings.TrimSpace(modifier) != "shortenable" {
			return Segment{}, fmt.Errorf("unknown placeholder modifier %q", modifier)
		}
		seg.Shortenable = true
	}
	return seg, nil
}

func parseJSONTag(body string) (Segment, error) {
	var tag map[string]json.RawMessage
	if err := json.Unmarshal([]byte("{"+body+"}"), &tag); err != nil {
		return Segment{}, fmt.Errorf("malformed tag {%s}: %v", body, err)
	}

	var seg Segment
	for key, raw := range tag {
		switch key {
		case "mask":
		case "placeholder", "meta":
			var name string
			if err := json.Unmarshal(raw, &name); err != nil || name == "" {
				return Segment{}, fmt.Errorf("%s must be a non-empty string", key)
			}
			if seg.Field != "" {
				return Segment{}, fmt.Errorf("tag names more than one field")
			}
			seg.Kind = Placeholder
			seg.Field = name
		case "shortenable":
			if err := json.Unmarshal(raw, &seg.Shortenable); err != nil {
				return Segment{}, fmt.Errorf("shortenable must be a boolean")
			}
		default:
			return Segment{}, fmt.Errorf("unknown tag key %q", key)
		}
	}

	if _, isMeta := tag["meta"]; isMeta && seg.Shortenable {
		return Segment{}, fmt.Errorf("meta fields cannot be shortenable")
	}
	if _, isMask := tag["mask"]; isMask {
		if seg.Field != "" || seg.Shortenable {
			return Segment{}, fmt.Errorf("mask tag cannot name a field or be shortenable")
		}
		seg.Kind = Mask
	}
	if seg.Kind == Literal {
		return Segment{}, fmt.Errorf("tag {%s} is neither a mask nor a placeholder", body)
	}
	return seg, nil
}
