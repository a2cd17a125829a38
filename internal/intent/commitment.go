package intent

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"
)

var commitmentPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

type commitmentFields struct {
	Action        Action  `json:"action"`
	TotalValueUSD float64 `json:"total_value_usd"`
	DurationDays  int     `json:"duration_days"`
	MaxGasUSD     float64 `json:"max_gas_usd"`
	Timestamp     int64   `json:"timestamp"`
}

// ComputeCommitment 对意图中影响经济结果的字段做规范化 JSON 后取 keccak256。
// 用户地址、代币明细与策略不参与计算，相同经济字段必然得到相同承诺。
func ComputeCommitment(i *Intent) (string, error) {
	if i == nil {
		return "", fmt.Errorf("intent is nil")
	}
	raw, err := json.Marshal(commitmentFields{
		Action:        i.Action,
		TotalValueUSD: i.TotalValueUSD,
		DurationDays:  i.DurationDays,
		MaxGasUSD:     i.MaxGasUSD,
		Timestamp:     i.Timestamp,
	})
	if err != nil {
		return "", fmt.Errorf("encode commitment fields: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize commitment fields: %w", err)
	}
	return crypto.Keccak256Hash(canonical).Hex(), nil
}

// ValidCommitment 检查承诺值格式。
func ValidCommitment(commitment string) bool {
	return commitmentPattern.MatchString(commitment)
}
