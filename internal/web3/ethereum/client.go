package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"

	"ZK-Intent-Fusion/internal/web3"
)

// Config describes how to construct an EVM compatible client.
// ExpectedChainID, when non-zero, guards against an RPC URL pointing at the wrong network.
type Config struct {
	Name            string
	RPCURL          string
	ExpectedChainID uint64
	Notes           string
}

// chainReader mirrors the subset of ethclient methods required for snapshots.
type chainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name     string
	notes    string
	expected uint64
	reader   chainReader
	mu       sync.Mutex
}

var _ web3.Client = (*Client)(nil)

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	return newClient(cfg, eth), nil
}

func newClient(cfg Config, reader chainReader) *Client {
	return &Client{name: cfg.Name, notes: cfg.Notes, expected: cfg.ExpectedChainID, reader: reader}
}

// Name returns the configured chain name.
func (c *Client) Name() string { return c.name }

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()
	if reader == nil {
		return web3.ChainSnapshot{}, errors.New("以太坊客户端已关闭")
	}

	chainID, err := reader.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	if c.expected != 0 && (chainID == nil || !chainID.IsUint64() || chainID.Uint64() != c.expected) {
		return web3.ChainSnapshot{}, fmt.Errorf("链 %s 的 ID 为 %s，配置期望 %d", c.name, toHexBig(chainID), c.expected)
	}
	blockNumber, err := reader.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader != nil {
		c.reader.Close()
		c.reader = nil
	}
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
