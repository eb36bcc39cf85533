// Package pricing converts Gemini token usage into dollar costs.
// Rates follow the published API pricing (Feb 2026).
package pricing

import "math"

// Rates holds per-model prices in USD per 1M tokens. Input and output each
// have a long-context ("tier 2") variant that kicks in above Tier2Threshold.
type Rates struct {
	In    float64
	InT2  float64
	Out   float64
	OutT2 float64 // zero means no tier-2 output rate published
}

// Tier2Threshold is the input token count above which tier-2 rates apply.
// The comparison is strict: exactly 200k still bills at tier 1.
const Tier2Threshold = 200_000

const (
	// SearchSurchargePer1K is the flat file-search surcharge per 1000 queries.
	SearchSurchargePer1K = 14.00
	// IndexingRatePer1M is the embedding rate applied during ingestion.
	IndexingRatePer1M = 0.15
)

// FallbackModel is billed when a model ID is not in the table. Unknown IDs
// are not an error.
const FallbackModel = "gemini-3-flash-preview"

// EmbeddingModel is the model name recorded on indexing ledger entries.
const EmbeddingModel = "gemini-embedding-001"

var modelRates = map[string]Rates{
	"gemini-3-pro-preview":   {In: 2.00, InT2: 4.00, Out: 12.00, OutT2: 18.00},
	"gemini-3-flash-preview": {In: 0.50, InT2: 0.50, Out: 3.00, OutT2: 3.00},
	"gemini-2.5-pro":         {In: 1.25, InT2: 2.50, Out: 10.00, OutT2: 15.00},
	"gemini-2.5-flash-lite":  {In: 0.10, InT2: 0.10, Out: 0.40, OutT2: 0.40},
	"gemini-1.5-flash":       {In: 0.075, InT2: 0.075, Out: 0.30},
}

// Breakdown is the result of a chat cost calculation.
type Breakdown struct {
	Total      float64
	TokenCost  float64
	SearchCost float64
	Tier2      bool
}

// ChatCost prices a generative chat turn: tiered input + output token cost
// plus the per-query search surcharge. Pure and deterministic.
func ChatCost(modelID string, inputTokens, outputTokens int64, searchCount int) Breakdown {
	rates, ok := modelRates[modelID]
	if !ok {
		rates = modelRates[FallbackModel]
	}

	tier2 := inputTokens > Tier2Threshold
	inRate := rates.In
	if tier2 {
		inRate = rates.InT2
	}
	outRate := rates.Out
	if tier2 && rates.OutT2 > 0 {
		outRate = rates.OutT2
	}

	tokenCost := float64(inputTokens)/1e6*inRate + float64(outputTokens)/1e6*outRate
	searchCost := float64(searchCount) / 1e3 * SearchSurchargePer1K

	return Breakdown{
		Total:      round9(tokenCost + searchCost),
		TokenCost:  round9(tokenCost),
		SearchCost: round9(searchCost),
		Tier2:      tier2,
	}
}

// IndexingCost prices file ingestion at the flat embedding rate.
func IndexingCost(totalTokens int64) float64 {
	return round9(float64(totalTokens) / 1e6 * IndexingRatePer1M)
}

// round9 keeps nine decimal places so sub-cent micro-charges survive
// aggregation.
func round9(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
