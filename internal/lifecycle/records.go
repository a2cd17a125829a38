package lifecycle

import (
	"ZK-Intent-Fusion/internal/auction"
	"ZK-Intent-Fusion/internal/intent"
)

// Stage 是意图生命周期所处的阶段。
type Stage string

const (
	StageParsed     Stage = "parsed"
	StageAuctioned  Stage = "auctioned"
	StageAuthorized Stage = "authorized"
	StageExecuted   Stage = "executed"
)

// UnsignedPlaceholder 是未提供签名时记录的占位值。
const UnsignedPlaceholder = "unsigned"

// Authorization 记录用户对胜出者的授权。
type Authorization struct {
	Commitment   string `json:"commitment"`
	WinnerSolver string `json:"winner_solver"`
	AuthorizedAt int64  `json:"authorized_at"`
	Signature    string `json:"signature"`
}

// FinalPosition 描述执行完成后的头寸。
type FinalPosition struct {
	Protocol     string  `json:"protocol"`
	Chain        string  `json:"chain"`
	Amount       string  `json:"amount"`
	AmountUSD    float64 `json:"amount_usd"`
	PositionType string  `json:"position_type"`
	APY          float64 `json:"apy"`
	Timestamp    int64   `json:"timestamp"`
	ChainID      string  `json:"chain_id,omitempty"`
	BlockNumber  string  `json:"block_number,omitempty"`
}

// ExecutionLog 记录一次执行的全部产出。
type ExecutionLog struct {
	Commitment             string        `json:"commitment"`
	Solver                 string        `json:"solver"`
	Txs                    []string      `json:"txs"`
	TotalGasUSD            float64       `json:"total_gas_usd"`
	FinalPosition          FinalPosition `json:"final_position"`
	ExecutionTimestamp     int64         `json:"execution_timestamp"`
	Proof                  string        `json:"proof"`
	FinalBalanceCommitment string        `json:"final_balance_commitment"`
}

// Clone 返回执行记录的深拷贝。
func (l *ExecutionLog) Clone() *ExecutionLog {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Txs = append([]string(nil), l.Txs...)
	return &clone
}

// Status 是某个承诺当前所处阶段的只读视图。
type Status struct {
	Commitment    string         `json:"commitment"`
	Exists        bool           `json:"exists"`
	Stage         Stage          `json:"stage"`
	Auctioned     bool           `json:"auctioned"`
	Authorized    bool           `json:"authorized"`
	Executed      bool           `json:"executed"`
	Winner        string         `json:"winner,omitempty"`
	Txs           []string       `json:"txs,omitempty"`
	FinalPosition *FinalPosition `json:"final_position,omitempty"`
}

// Submission 汇总一次 Submit 的产出。
type Submission struct {
	Intent   *intent.Intent         `json:"intent"`
	Auction  *auction.Result        `json:"auction"`
	Stats    auction.Stats          `json:"stats"`
	Agents   []auction.AgentOutcome `json:"agents,omitempty"`
	Metadata map[string]string      `json:"public_metadata,omitempty"`
}
