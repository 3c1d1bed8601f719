package testutil

// FixedFlowGenerator hands out one flow token forever.
//
// With it, every dispatch in a test shares a flow, so journals, traces and
// error messages carry a token the test can assert on. engine.FixedGenerator
// is the sequence variant.
//
// Safe for concurrent use: it has no mutable state.
type FixedFlowGenerator struct {
	token string
}

// NewFixedFlowGenerator returns a generator for token.
// An empty token becomes "test-flow-default".
func NewFixedFlowGenerator(token string) *FixedFlowGenerator {
	if token == "" {
		token = "test-flow-default"
	}
	return &FixedFlowGenerator{token: token}
}

// Generate returns the fixed token.
func (g *FixedFlowGenerator) Generate() string {
	return g.token
}
