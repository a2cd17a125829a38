package auction

// Range 汇总一组数值。
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// Stats 是拍卖结果的统计摘要，APY 以百分比表示。
type Stats struct {
	TotalBids int    `json:"total_bids"`
	ValidBids int    `json:"valid_bids"`
	Winner    string `json:"winner,omitempty"`
	APYRange  *Range `json:"apy_range,omitempty"`
	GasRange  *Range `json:"gas_range,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Summarize 基于准入报价计算统计信息。
func Summarize(r *Result) Stats {
	if r == nil {
		return Stats{}
	}
	admissible := r.Admissible()
	stats := Stats{TotalBids: len(r.Bids), ValidBids: len(admissible)}
	if len(admissible) == 0 {
		return stats
	}
	stats.Winner = r.Winner.Solver
	stats.Timestamp = r.Timestamp

	apy := make([]float64, len(admissible))
	gas := make([]float64, len(admissible))
	for i, bid := range admissible {
		apy[i] = float64(bid.ClaimedAPY) / 10
		gas[i] = bid.ClaimedGasUSD
	}
	stats.APYRange = summarize(apy)
	stats.GasRange = summarize(gas)
	return stats
}

func summarize(values []float64) *Range {
	out := &Range{Min: values[0], Max: values[0]}
	sum := 0.0
	for _, v := range values {
		out.Min = min(out.Min, v)
		out.Max = max(out.Max, v)
		sum += v
	}
	out.Avg = sum / float64(len(values))
	return out
}
