package tokenize

import (
	"fmt"
	"strings"
)

// Policy chooses which shortenable tokens are dropped when a rendered
// example exceeds its budget.
type Policy int

const (
	// PolicyTail drops from the back of the shortenable content, keeping the front.
	PolicyTail Policy = iota
	// PolicyHead drops from the front of the shortenable content, keeping the back.
	PolicyHead
	// PolicyBalanced spreads the cut across shortenable segments in proportion
	// to their lengths, trimming both ends of each.
	PolicyBalanced
)

var policyNames = map[Policy]string{
	PolicyTail:     "tail",
	PolicyHead:     "head",
	PolicyBalanced: "balanced",
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy converts a configuration string into a Policy
func ParsePolicy(s string) (Policy, error) {
	for p, name := range policyNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown truncate method %q (want head, tail or balanced)", s)
}

// MarshalText implements encoding.TextMarshaler
func (p Policy) MarshalText() ([]byte, error) {
	if _, ok := policyNames[p]; !ok {
		return nil, fmt.Errorf("invalid policy %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Policy) UnmarshalText(b []byte) error {
	v, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Architecture decides where the target goes
type Architecture int

const (
	// Causal models read context and target as one sequence; the target fills the mask slot.
	Causal Architecture = iota
	// Seq2Seq models keep the mask token in the encoder input and read the target on the decoder side.
	Seq2Seq
)

func (a Architecture) String() string {
	switch a {
	case Causal:
		return "causal"
	case Seq2Seq:
		return "seq2seq"
	}
	return fmt.Sprintf("Architecture(%d)", int(a))
}

// ParseArchitecture converts a configuration string into an Architecture
func ParseArchitecture(s string) (Architecture, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "causal", "lm", "decoder":
		return Causal, nil
	case "seq2seq", "encoder-decoder":
		return Seq2Seq, nil
	}
	return 0, fmt.Errorf("unknown architecture %q (want causal or seq2seq)", s)
}

// Config bounds and shapes tokenized examples
type Config struct {
	MaxSeqLength     int
	DecoderMaxLength int
	TruncateMethod   Policy
	PredictEOSToken  bool
	Architecture     Architecture
}

// Validate checks lengths and enumerations
func (c *Config) Validate() error {
	if c.MaxSeqLength <= 0 {
		return fmt.Errorf("max_seq_length must be > 0")
	}
	if c.DecoderMaxLength <= 0 {
		return fmt.Errorf("decoder_max_length must be > 0")
	}
	if c.PredictEOSToken && c.DecoderMaxLength < 2 {
		return fmt.Errorf("decoder_max_length must be >= 2 when predicting the end token")
	}
	if _, ok := policyNames[c.TruncateMethod]; !ok {
		return fmt.Errorf("invalid truncate method %v", c.TruncateMethod)
	}
	switch c.Architecture {
	case Causal, Seq2Seq:
	default:
		return fmt.Errorf("invalid architecture %v", c.Architecture)
	}
	return nil
}
