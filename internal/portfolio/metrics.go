package portfolio

import "github.com/shopspring/decimal"

// Metrics holds the aggregates derived from a document on every accepted
// write. They are always recomputed server-side, never trusted from the
// client.
type Metrics struct {
	TotalValueUSD decimal.Decimal
	AssetCount    int
}

// CalculateMetrics derives portfolio aggregates from a document. The
// total is the sum of amount times cost basis across assets, computed
// with arbitrary-precision decimals. A missing or unparseable amount or
// cost basis contributes zero so one malformed asset cannot corrupt the
// whole aggregate.
func CalculateMetrics(document Document) Metrics {
	total := decimal.Zero
	for _, entry := range document.Assets {
		amount, err := decimal.NewFromString(entry.Amount)
		if err != nil {
			continue
		}
		costBasis, err := decimal.NewFromString(entry.CostBasis)
		if err != nil {
			continue
		}
		total = total.Add(amount.Mul(costBasis))
	}
	return Metrics{
		TotalValueUSD: total,
		AssetCount:    len(document.Assets),
	}
}
