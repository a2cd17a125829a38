package solver

import (
	"ZK-Intent-Fusion/internal/auction"
	"ZK-Intent-Fusion/internal/intent"
)

// OverBudget 描述方案 gas 超出意图上限时的处理方式。
type OverBudget string

const (
	// OverBudgetTrim 把 gas 压缩到 95% 与上限中的较小值。
	OverBudgetTrim OverBudget = "trim"
	// OverBudgetDecline 直接放弃本轮。
	OverBudgetDecline OverBudget = "decline"
)

// PlanTemplate 是求解者针对某类动作的固定方案。
type PlanTemplate struct {
	Protocol        string   `yaml:"protocol" json:"protocol"`
	Route           string   `yaml:"route" json:"route"`
	APYBps10        int      `yaml:"apy_bps10" json:"apy_bps10"`
	GasUSD          float64  `yaml:"gas_usd" json:"gas_usd"`
	DurationSeconds int      `yaml:"duration_seconds" json:"duration_seconds"`
	Steps           []string `yaml:"steps" json:"steps"`
}

func (t PlanTemplate) plan(solver string) auction.Plan {
	return auction.Plan{
		Solver:                   solver,
		Protocol:                 t.Protocol,
		Route:                    t.Route,
		APYBps10:                 t.APYBps10,
		GasUSD:                   t.GasUSD,
		EstimatedDurationSeconds: t.DurationSeconds,
		Steps:                    append([]string(nil), t.Steps...),
	}
}

// Profile 描述一个求解者的行为。
type Profile struct {
	ID         string                         `yaml:"id" json:"id"`
	Name       string                         `yaml:"name" json:"name"`
	Qualified  bool                           `yaml:"qualified" json:"qualified"`
	OverBudget OverBudget                     `yaml:"over_budget" json:"over_budget"`
	ClaimValid bool                           `yaml:"claim_valid" json:"claim_valid"`
	LatencyMS  int                            `yaml:"latency_ms" json:"latency_ms"`
	Plans      map[intent.Action]PlanTemplate `yaml:"plans" json:"plans"`
	Guess      *PlanTemplate                  `yaml:"guess" json:"guess"`
}

// DefaultProfiles 返回内置的三个求解者：两个合格求解者与一个未获授权的对手。
func DefaultProfiles() []Profile {
	return []Profile{
		{
			ID:         "0xSolverA",
			Name:       "Morpho Optimizer",
			Qualified:  true,
			OverBudget: OverBudgetTrim,
			Plans: map[intent.Action]PlanTemplate{
				intent.ActionYieldFarm: {
					Protocol:        "morpho",
					Route:           "arbitrum+polygon -> optimism -> morpho",
					APYBps10:        132,
					GasUSD:          15.0,
					DurationSeconds: 300,
					Steps: []string{
						"Bridge USDC from Arbitrum to Optimism",
						"Bridge USDT from Polygon to Optimism",
						"Swap USDT to USDC on Optimism",
						"Supply USDC to Morpho",
					},
				},
				intent.ActionSwap: {
					Protocol:        "1inch",
					Route:           "mainnet -> 1inch aggregator -> mainnet",
					GasUSD:          8.5,
					DurationSeconds: 30,
					Steps: []string{
						"Get best rates from 1inch aggregator",
						"Execute swap via 1inch router",
					},
				},
			},
		},
		{
			ID:         "0xSolverB",
			Name:       "Aave Balancer",
			Qualified:  true,
			OverBudget: OverBudgetDecline,
			Plans: map[intent.Action]PlanTemplate{
				intent.ActionYieldFarm: {
					Protocol:        "aave",
					Route:           "polygon -> arbitrum (bridge) + swap -> aave",
					APYBps10:        121,
					GasUSD:          11.0,
					DurationSeconds: 240,
					Steps: []string{
						"Withdraw from Polygon",
						"Bridge to Arbitrum",
						"Swap USDT to USDC on Arbitrum",
						"Supply USDC to Aave v3",
					},
				},
				intent.ActionSwap: {
					Protocol:        "uniswap-v3",
					Route:           "mainnet -> uniswap v3 -> mainnet",
					GasUSD:          6.5,
					DurationSeconds: 20,
					Steps: []string{
						"Check liquidity across Uniswap V3 pools",
						"Execute optimal swap route",
					},
				},
			},
		},
		{
			ID:         "0xSolverC",
			Name:       "Unqualified Solver",
			ClaimValid: true,
			Guess: &PlanTemplate{
				Protocol:        "compound",
				Route:           "guessed route without intent details",
				APYBps10:        140,
				GasUSD:          8.0,
				DurationSeconds: 180,
			},
		},
	}
}
