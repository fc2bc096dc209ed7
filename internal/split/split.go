package split

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"

	"github.com/lamim/skipdoc/internal/metrics"
	"github.com/lamim/skipdoc/pkg/models"
)

// Strategy selects how records are assigned to splits
type Strategy string

const (
	// StrategyHash assigns each record by hashing its identifier. Assignment
	// of a record never changes when other records are added or removed.
	StrategyHash Strategy = "hash"
	// StrategySeeded permutes the corpus with a fixed seed and cuts it at
	// exact proportions.
	StrategySeeded Strategy = "seeded"
)

// Ratios are the relative sizes of the three splits. They need not sum to 1.
type Ratios struct {
	Train      float64 `toml:"train"`
	Validation float64 `toml:"validation"`
	Test       float64 `toml:"test"`
}

func (r Ratios) normalized() (train, validation, test float64) {
	sum := r.Train + r.Validation + r.Test
	return r.Train / sum, r.Validation / sum, r.Test / sum
}

// Config controls a split
type Config struct {
	Strategy          Strategy
	Ratios            Ratios
	Seed              uint64
	RequireValidation bool
	RequireTest       bool
}

// Validate checks ratios and strategy
func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategyHash, StrategySeeded:
	default:
		return fmt.Errorf("strategy must be one of hash, seeded (got %q)", c.Strategy)
	}
	r := c.Ratios
	for name, v := range map[string]float64{"train": r.Train, "validation": r.Validation, "test": r.Test} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("ratio %s must be a finite non-negative number (got %v)", name, v)
		}
	}
	if r.Train <= 0 {
		return fmt.Errorf("train ratio must be > 0")
	}
	if c.RequireValidation && r.Validation == 0 {
		return fmt.Errorf("validation split is required but its ratio is 0")
	}
	if c.RequireTest && r.Test == 0 {
		return fmt.Errorf("test split is required but its ratio is 0")
	}
	return nil
}

// SplitSet maps each split name to its records in corpus order.
// Every input record appears in exactly one split.
type SplitSet map[models.SplitName][]models.Record

// Sizes returns the record count per split
func (s SplitSet) Sizes() map[models.SplitName]int {
	out := make(map[models.SplitName]int, len(s))
	for name, recs := range s {
		out[name] = len(recs)
	}
	return out
}

// EmptySplitError reports a required split that received no records
type EmptySplitError struct {
	Split models.SplitName
	Total int
}

func (e *EmptySplitError) Error() string {
	return fmt.Sprintf("split %q is empty (corpus has %d records)", e.Split, e.Total)
}

// Split partitions records into train, validation and test. The result is a
// pure function of the records and cfg.
func Split(records []models.Record, cfg Config, obs metrics.Observer) (SplitSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid split config: %w", err)
	}
	obs = metrics.OrNop(obs)

	var assign []models.SplitName
	switch cfg.Strategy {
	case StrategyHash:
		assign = assignByHash(records, cfg)
	case StrategySeeded:
		assign = assignSeeded(len(records), cfg)
	}

	set := SplitSet{
		models.SplitTrain:      nil,
		models.SplitValidation: nil,
		models.SplitTest:       nil,
	}
	for i, rec := range records {
		set[assign[i]] = append(set[assign[i]], rec)
	}

	for _, name := range models.Splits {
		obs.SplitSized(string(name), len(set[name]))
	}

	required := map[models.SplitName]bool{
		models.SplitTrain:      true,
		models.SplitValidation: cfg.RequireValidation,
		models.SplitTest:       cfg.RequireTest,
	}
	for _, name := range models.Splits {
		if required[name] && len(set[name]) == 0 {
			return nil, &EmptySplitError{Split: name, Total: len(records)}
		}
	}
	return set, nil
}

// unitHash maps an identifier to [0, 1) using the top 53 bits of its xxhash
func unitHash(id string, seed uint64) float64 {
	h := xxhash.New()
	if seed != 0 {
		var b [8]byte
		for i := range b {
			b[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(b[:])
	}
	_, _ = h.WriteString(id)
	return float64(h.Sum64()>>11) / (1 << 53)
}

func assignByHash(records []models.Record, cfg Config) []models.SplitName {
	t, v, _ := cfg.Ratios.normalized()
	last := lastNonZero(cfg.Ratios)
	out := make([]models.SplitName, len(records))
	for i, rec := range records {
		u := unitHash(rec.ID, cfg.Seed)
		switch {
		case u < t:
			out[i] = models.SplitTrain
		case u < t+v && cfg.Ratios.Validation > 0:
			out[i] = models.SplitValidation
		case cfg.Ratios.Test > 0:
			out[i] = models.SplitTest
		default:
			// rounding at the top of the interval
			out[i] = last
		}
	}
	return out
}

func lastNonZero(r Ratios) models.SplitName {
	switch {
	case r.Test > 0:
		return models.SplitTest
	case r.Validation > 0:
		return models.SplitValidation
	}
	return models.SplitTrain
}

// assignSeeded cuts a seeded permutation into round(n*t), round(n*v) and the remainder
func assignSeeded(n int, cfg Config) []models.SplitName {
	t, v, _ := cfg.Ratios.normalized()
	nTrain := int(math.Round(float64(n) * t))
	nVal := int(math.Round(float64(n) * v))
	if nTrain > n {
		nTrain = n
	}
	if nTrain+nVal > n || (cfg.Ratios.Test == 0 && cfg.Ratios.Validation > 0) {
		nVal = n - nTrain
	}
	if cfg.Ratios.Test == 0 && cfg.Ratios.Validation == 0 {
		nTrain = n
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, 0x736b6970646f63)) // "skipdoc"
	perm := rng.Perm(n)

	out := make([]models.SplitName, n)
	for rank, idx := range perm {
		switch {
		case rank < nTrain:
			out[idx] = models.SplitTrain
		case rank < nTrain+nVal:
			out[idx] = models.SplitValidation
		default:
			out[idx] = models.SplitTest
		}
	}
	return out
}
