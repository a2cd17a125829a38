// Package execution 提供模拟的跨链桥接执行后端。
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ZK-Intent-Fusion/internal/auction"
	xerrors "ZK-Intent-Fusion/internal/errors"
	"ZK-Intent-Fusion/internal/intent"
	"ZK-Intent-Fusion/internal/lifecycle"
	"ZK-Intent-Fusion/internal/web3"
	"ZK-Intent-Fusion/pkg/logger"
)

// DefaultGasVariance 是实际 gas 相对报价的放大系数。
const DefaultGasVariance = 1.05

// 稳定币篮子统一结算为 USDC。
const settlementAsset = "USDC"

// Route 描述把资金送达某个协议的路径。
type Route struct {
	Protocol     string
	Chain        string
	PositionType string
	// Retention 是桥接与兑换后剩余价值占意图总价值的比例。
	Retention float64
	Steps     []string
	// ReportAPY 为 false 时头寸 APY 记为 0。
	ReportAPY bool
}

// DefaultRoutes 返回内置的协议路径。
func DefaultRoutes() map[string]Route {
	return map[string]Route{
		"morpho": {
			Protocol:     "morpho",
			Chain:        "optimism",
			PositionType: "lending",
			Retention:    0.999,
			Steps:        []string{"arb_bridge", "poly_bridge", "opt_swap", "morpho_supply"},
			ReportAPY:    true,
		},
		"aave": {
			Protocol:     "aave",
			Chain:        "arbitrum",
			PositionType: "lending",
			Retention:    0.9996,
			Steps:        []string{"poly_withdraw", "poly_arb_bridge", "arb_swap", "aave_supply"},
			ReportAPY:    true,
		},
	}
}

// GenericRoute 是未知协议使用的兜底路径。
var GenericRoute = Route{
	Protocol:     "generic",
	Chain:        "ethereum",
	PositionType: "unknown",
	Retention:    1,
	Steps:        []string{"bridge", "execute"},
}

// ChainLookup 按链名查找链客户端。
type ChainLookup interface {
	Client(name string) (web3.Client, bool)
}

// Bridge 是模拟的执行后端，按胜出方案的协议选择路径并生成交易哈希。
type Bridge struct {
	routes      map[string]Route
	fallback    Route
	chains      ChainLookup
	gasVariance float64
	now         func() time.Time
	logger      *slog.Logger
}

// Option 定义 Bridge 的可选配置。
type Option func(*Bridge)

// WithRoutes 替换协议路径表。
func WithRoutes(routes map[string]Route) Option {
	return func(b *Bridge) {
		if len(routes) > 0 {
			b.routes = make(map[string]Route, len(routes))
			for name, route := range routes {
				b.routes[strings.ToLower(name)] = route
			}
		}
	}
}

// WithChains 启用链快照，头寸会带上目标链的链 ID 与区块高度。
func WithChains(chains ChainLookup) Option {
	return func(b *Bridge) {
		b.chains = chains
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBridge 创建执行后端。
func NewBridge(opts ...Option) *Bridge {
	b := &Bridge{
		routes:      DefaultRoutes(),
		fallback:    GenericRoute,
		gasVariance: DefaultGasVariance,
		now:         time.Now,
		logger:      logger.Named("execution"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

var _ lifecycle.ExecutionBackend = (*Bridge)(nil)

// BridgeAndExecute 执行胜出方案并返回交易、实际 gas 与最终头寸。
func (b *Bridge) BridgeAndExecute(ctx context.Context, winner auction.Bid, in *intent.Intent) (*lifecycle.Settlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "execution cancelled")
	}
	if in == nil {
		return nil, errors.New("intent is required for execution")
	}

	route := b.route(winner)
	ts := b.now().Unix()

	txs := make([]string, len(route.Steps))
	for i, step := range route.Steps {
		txs[i] = fmt.Sprintf("0x%s_%d", step, ts+int64(i))
	}

	amountUSD := in.TotalValueUSD * route.Retention
	position := lifecycle.FinalPosition{
		Protocol:     route.Protocol,
		Chain:        route.Chain,
		Amount:       fmt.Sprintf("~%s %s", strconv.FormatFloat(amountUSD, 'f', -1, 64), settlementAsset),
		AmountUSD:    amountUSD,
		PositionType: route.PositionType,
		Timestamp:    ts,
	}
	if route.ReportAPY {
		position.APY = float64(winner.ClaimedAPY) / 10
	}
	b.stamp(ctx, &position)

	if err := verifySettlement(txs, position); err != nil {
		return nil, err
	}

	b.logger.Info("执行完成",
		slog.String("commitment", in.Commitment),
		slog.String("solver", winner.Solver),
		slog.String("protocol", position.Protocol),
		slog.String("chain", position.Chain),
		slog.Int("txs", len(txs)))

	return &lifecycle.Settlement{
		Txs:      txs,
		GasUSD:   winner.ClaimedGasUSD * b.gasVariance,
		Position: position,
	}, nil
}

func (b *Bridge) route(winner auction.Bid) Route {
	if winner.Plan != nil {
		if route, ok := b.routes[strings.ToLower(winner.Plan.Protocol)]; ok {
			return route
		}
	}
	return b.fallback
}

// stamp 尽力为头寸附上链快照，失败只记录日志。
func (b *Bridge) stamp(ctx context.Context, position *lifecycle.FinalPosition) {
	if b.chains == nil {
		return
	}
	client, ok := b.chains.Client(position.Chain)
	if !ok || client == nil {
		return
	}
	snap, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		b.logger.Warn("获取链快照失败",
			slog.String("chain", position.Chain),
			slog.String("error", err.Error()))
		return
	}
	position.ChainID = snap.ChainID
	position.BlockNumber = snap.BlockNumber
}

// verifySettlement 确认跨链执行产生了交易并落到了具体协议上。
func verifySettlement(txs []string, position lifecycle.FinalPosition) error {
	if len(txs) == 0 {
		return xerrors.New(xerrors.CodeInternal, "execution produced no transactions")
	}
	if position.Protocol == "" {
		return xerrors.New(xerrors.CodeInternal, "execution produced no final position")
	}
	return nil
}
