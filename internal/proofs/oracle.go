package proofs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"

	"ZK-Intent-Fusion/internal/auction"
	xerrors "ZK-Intent-Fusion/internal/errors"
	"ZK-Intent-Fusion/internal/intent"
	"ZK-Intent-Fusion/internal/lifecycle"
)

const (
	solverProofPrefix = "0xproof_"
	execProofPrefix   = "0xexec_"
	minProofLength    = 20
	suffixLength      = 6
	// MaxAPYBps10 对应 500% APY。
	MaxAPYBps10 = 50000
)

// DefaultProtocols 是允许出现在方案中的协议。
var DefaultProtocols = []string{"morpho", "aave", "compound", "uniswap", "curve"}

// CodeConstraintViolated 表示方案不满足证明约束。
const CodeConstraintViolated xerrors.Code = "PROOF_CONSTRAINT_VIOLATED"

func init() {
	xerrors.Register(CodeConstraintViolated, xerrors.Attributes{
		Message:  "plan violates proof constraints",
		Kind:     xerrors.KindValidation,
		Class:    xerrors.ClassClient,
		Severity: xerrors.SeverityInfo,
	})
}

// MockOracle 是基于哈希的证明预言机。
type MockOracle struct {
	protocols map[string]struct{}
	maxAPY    int
}

// OracleOption 定义 MockOracle 的可选配置。
type OracleOption func(*MockOracle)

// WithProtocols 替换协议白名单。
func WithProtocols(protocols ...string) OracleOption {
	return func(o *MockOracle) {
		if len(protocols) == 0 {
			return
		}
		o.protocols = make(map[string]struct{}, len(protocols))
		for _, p := range protocols {
			o.protocols[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
		}
	}
}

// NewMockOracle 创建预言机。
func NewMockOracle(opts ...OracleOption) *MockOracle {
	o := &MockOracle{maxAPY: MaxAPYBps10}
	WithProtocols(DefaultProtocols...)(o)
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// GenerateSolverProof 检查方案约束并生成与承诺绑定的证明。
func (o *MockOracle) GenerateSolverProof(in *intent.Intent, plan auction.Plan) (string, error) {
	if in == nil {
		return "", xerrors.New(CodeConstraintViolated, "intent is required")
	}
	switch {
	case plan.GasUSD > in.MaxGasUSD:
		return "", constraint("gas %.2f exceeds budget %.2f", plan.GasUSD, in.MaxGasUSD)
	case plan.APYBps10 <= 0:
		return "", constraint("apy must be positive")
	case plan.APYBps10 > o.maxAPY:
		return "", constraint("apy %d exceeds %d", plan.APYBps10, o.maxAPY)
	}
	if _, ok := o.protocols[strings.ToLower(plan.Protocol)]; !ok {
		return "", constraint("protocol %q is not whitelisted", plan.Protocol)
	}
	suffix := solverSuffix(plan.Solver)
	return solverProofPrefix + suffix + "_" + bindingTag(in.Commitment, suffix), nil
}

// VerifyBid 实现 auction.Verifier。证明必须带有前缀并与承诺绑定。
func (o *MockOracle) VerifyBid(proof string, inputs auction.PublicInputs) bool {
	if len(proof) < minProofLength || !strings.HasPrefix(proof, solverProofPrefix) {
		return false
	}
	body := strings.TrimPrefix(proof, solverProofPrefix)
	idx := strings.LastIndex(body, "_")
	if idx <= 0 || idx == len(body)-1 {
		return false
	}
	suffix, tag := body[:idx], body[idx+1:]
	return tag == bindingTag(inputs.Commitment, suffix)
}

// ProveExecution 生成执行证明与最终余额承诺。
func (o *MockOracle) ProveExecution(in *intent.Intent, log *lifecycle.ExecutionLog) (string, string, error) {
	if in == nil || log == nil {
		return "", "", xerrors.New(xerrors.CodeInternal, "intent and execution log are required")
	}
	balance, err := hashCanonical(map[string]any{
		"kind":       "balance",
		"commitment": in.Commitment,
		"amount_usd": log.FinalPosition.AmountUSD,
		"protocol":   log.FinalPosition.Protocol,
		"gas_usd":    log.TotalGasUSD,
		"timestamp":  log.ExecutionTimestamp,
	})
	if err != nil {
		return "", "", xerrors.Wrap(xerrors.CodeInternal, err, "derive final balance commitment")
	}
	proof, err := hashCanonical(map[string]any{
		"kind":       "exec_proof",
		"commitment": in.Commitment,
		"balance":    balance,
		"tx_count":   len(log.Txs),
		"solver":     log.Solver,
	})
	if err != nil {
		return "", "", xerrors.Wrap(xerrors.CodeInternal, err, "derive execution proof")
	}
	return execProofPrefix + proof[len(proof)-16:], balance, nil
}

// VerifyExecution 检查执行证明格式。
func (o *MockOracle) VerifyExecution(proof, commitment, finalBalance string) bool {
	return strings.HasPrefix(proof, execProofPrefix) && len(proof) == len(execProofPrefix)+16 &&
		commitment != "" && finalBalance != ""
}

func solverSuffix(solver string) string {
	if len(solver) <= suffixLength {
		return solver
	}
	return solver[len(solver)-suffixLength:]
}

func bindingTag(commitment, suffix string) string {
	hash := crypto.Keccak256Hash([]byte(commitment + ":" + suffix)).Hex()
	return hash[2:10]
}

func hashCanonical(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	return crypto.Keccak256Hash(canonical).Hex(), nil
}

func constraint(format string, args ...any) error {
	return xerrors.New(CodeConstraintViolated, fmt.Sprintf(format, args...))
}
