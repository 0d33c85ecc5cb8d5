package fusion

// Rule is the rule that merges ranked lists from several backends.
type Rule string

// Fusion rules.
const (
	// RRF is reciprocal-rank fusion: score = Σ 1/(k + rank), rank 1-based.
	RRF Rule = "rrf"
	// Weighted is min-max normalized score sum: alpha*dense + (1-alpha)*lexical.
	Weighted Rule = "weighted"
)

// Defaults.
const (
	DefaultRRFK  = 60
	DefaultAlpha = 0.5
)

// IsValid checks if the rule is one of the supported values.
func (r Rule) IsValid() bool {
	return r == RRF || r == Weighted
}

// Params configures a fusion rule.
type Params struct {
	Rule  Rule
	RRFK  int
	Alpha float64
}

// WithDefaults fills zero values.
func (p Params) WithDefaults() Params {
	if p.Rule == "" {
		p.Rule = RRF
	}
	if p.RRFK <= 0 {
		p.RRFK = DefaultRRFK
	}
	if p.Rule == Weighted && p.Alpha == 0 {
		p.Alpha = DefaultAlpha
	}
	return p
}
