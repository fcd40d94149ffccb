package points

import "github.com/shopspring/decimal"

// StatsInput holds the raw aggregates a store computes for one business.
type StatsInput struct {
	TotalClients   int64
	ActiveClients  int64
	PointsIssued   int64 // sum of positive entry deltas
	PointsRedeemed int64 // sum of |negative entry deltas|
	Outstanding    int64 // sum of client balances
	EntryCount     int64
}

// Stats is the business dashboard summary.
type Stats struct {
	StatsInput
	AverageBalance decimal.Decimal // outstanding / clients, 2 places
	RedemptionRate decimal.Decimal // redeemed / issued, 4 places
}

// NewStats derives ratios from raw aggregates. Empty denominators yield zero.
func NewStats(in StatsInput) Stats {
	s := Stats{
		StatsInput:     in,
		AverageBalance: decimal.Zero,
		RedemptionRate: decimal.Zero,
	}
	if in.TotalClients > 0 {
		s.AverageBalance = decimal.NewFromInt(in.Outstanding).
			DivRound(decimal.NewFromInt(in.TotalClients), 2)
	}
	if in.PointsIssued > 0 {
		s.RedemptionRate = decimal.NewFromInt(in.PointsRedeemed).
			DivRound(decimal.NewFromInt(in.PointsIssued), 4)
	}
	return s
}
