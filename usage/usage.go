// Package usage accumulates token, cost and latency counters of model calls.
package usage

import (
	"fmt"
	"strings"
	"time"

	"github.com/effective-security/toolmesh/pkg/llms"
	"github.com/effective-security/toolmesh/pkg/llmutils"
)

// Record holds the counters of one or more model calls.
// Records are values: Add returns a new Record.
type Record struct {
	InputUnits  int64 `json:"input_units" yaml:"input_units"`
	OutputUnits int64 `json:"output_units" yaml:"output_units"`
	TotalUnits  int64 `json:"total_units" yaml:"total_units"`

	InputCost  float64 `json:"input_cost" yaml:"input_cost"`
	OutputCost float64 `json:"output_cost" yaml:"output_cost"`
	TotalCost  float64 `json:"total_cost" yaml:"total_cost"`

	LatencyMs int64 `json:"latency_ms" yaml:"latency_ms"`
}

// Add returns the pointwise sum of r and other.
func (r Record) Add(other Record) Record {
	return Record{
		InputUnits:  r.InputUnits + other.InputUnits,
		OutputUnits: r.OutputUnits + other.OutputUnits,
		TotalUnits:  r.TotalUnits + other.TotalUnits,
		InputCost:   r.InputCost + other.InputCost,
		OutputCost:  r.OutputCost + other.OutputCost,
		TotalCost:   r.TotalCost + other.TotalCost,
		LatencyMs:   r.LatencyMs + other.LatencyMs,
	}
}

// IsZero reports an empty record.
func (r Record) IsZero() bool {
	return r == Record{}
}

func (r Record) String() string {
	return fmt.Sprintf("tokens: %d in, %d out, %d total; cost: %.6f; latency: %dms",
		r.InputUnits, r.OutputUnits, r.TotalUnits, r.TotalCost, r.LatencyMs)
}

// Sum adds the records.
func Sum(records ...Record) Record {
	var total Record
	for _, r := range records {
		total = total.Add(r)
	}
	return total
}

// Pricing is the price of one million tokens.
type Pricing struct {
	InputPerMillion  float64 `json:"input_per_million" yaml:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million" yaml:"output_per_million"`
}

// Cost returns the input and output cost of the token counts.
func (p Pricing) Cost(in, out int64) (float64, float64) {
	return float64(in) * p.InputPerMillion / 1e6, float64(out) * p.OutputPerMillion / 1e6
}

// PriceTable maps a model name to its pricing.
type PriceTable map[string]Pricing

// Find returns the pricing of the model.
// A key matches exactly or as a prefix of the model name,
// the longest prefix wins.
func (t PriceTable) Find(model string) (Pricing, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}
	var (
		best    Pricing
		bestLen int
	)
	for key, p := range t {
		if key != "" && strings.HasPrefix(model, key) && len(key) > bestLen {
			best = p
			bestLen = len(key)
		}
	}
	return best, bestLen > 0
}

// FromResponse returns the record of one model call.
func FromResponse(resp *llms.ContentResponse, latency time.Duration, pricing Pricing) Record {
	in, out, total := llmutils.CountTokens(resp)
	inCost, outCost := pricing.Cost(in, out)
	return Record{
		InputUnits:  in,
		OutputUnits: out,
		TotalUnits:  total,
		InputCost:   inCost,
		OutputCost:  outCost,
		TotalCost:   inCost + outCost,
		LatencyMs:   latency.Milliseconds(),
	}
}
