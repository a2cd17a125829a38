package web3

import (
	"context"
)

// ChainSnapshot represents summarized network metadata used to stamp execution results.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Client defines the read-only view of a chain that the execution layer relies on.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
