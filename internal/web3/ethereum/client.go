package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"ChainPilot/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name       string
	RPCURL     string
	ChainID    int64
	WalletKey  string
	Notes      string
	// ReceiptPoll controls how often mined receipts are polled for.
	ReceiptPoll time.Duration
	// ReceiptWait bounds how long a single transaction may stay pending.
	ReceiptWait time.Duration
}

const (
	defaultReceiptPoll = 2 * time.Second
	defaultReceiptWait = 3 * time.Minute
)

// node mirrors the subset of ethclient methods the client depends on,
// so tests can substitute a scripted backend.
type node interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name        string
	notes       string
	node        node
	eth         *ethclient.Client
	key         *ecdsa.PrivateKey
	sender      common.Address
	chainID     *big.Int
	signer      coretypes.Signer
	receiptPoll time.Duration
	receiptWait time.Duration
}

var _ web3.Client = (*Client)(nil)

// NewClient dials the configured RPC endpoint and returns a ready-to-use
// client that signs submitted calls with the configured wallet key.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	if cfg.ChainID <= 0 {
		return nil, errors.New("未配置链 ID")
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	client, err := newClient(eth, cfg)
	if err != nil {
		eth.Close()
		return nil, err
	}
	client.eth = eth
	return client, nil
}

// NewClientWithNode wires an alternative backend, used by tests.
func NewClientWithNode(backend node, cfg Config) (*Client, error) {
	return newClient(backend, cfg)
}

func newClient(backend node, cfg Config) (*Client, error) {
	chainID := big.NewInt(cfg.ChainID)
	client := &Client{
		name:        cfg.Name,
		notes:       cfg.Notes,
		node:        backend,
		chainID:     chainID,
		signer:      coretypes.LatestSignerForChainID(chainID),
		receiptPoll: cfg.ReceiptPoll,
		receiptWait: cfg.ReceiptWait,
	}
	if client.receiptPoll <= 0 {
		client.receiptPoll = defaultReceiptPoll
	}
	if client.receiptWait <= 0 {
		client.receiptWait = defaultReceiptWait
	}

	if keyHex := strings.TrimSpace(strings.TrimPrefix(cfg.WalletKey, "0x")); keyHex != "" {
		key, err := crypto.HexToECDSA(keyHex)
		if err != nil {
			return nil, fmt.Errorf("解析钱包私钥失败: %w", err)
		}
		client.key = key
		client.sender = crypto.PubkeyToAddress(key.PublicKey)
	}
	return client, nil
}

// Sender returns the address derived from the configured wallet key.
func (c *Client) Sender() common.Address {
	return c.sender
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.node = nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.node == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}
	chainID, err := c.node.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := c.node.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// NativeBalance queries the latest native token balance of the account.
func (c *Client) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	if c == nil || c.node == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	balance, err := c.node.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// CallContract executes a read-only call against the latest block.
func (c *Client) CallContract(ctx context.Context, call web3.Call) ([]byte, error) {
	if c == nil || c.node == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	to := call.To
	raw, err := c.node.CallContract(ctx, gethcore.CallMsg{
		From:  c.sender,
		To:    &to,
		Data:  call.Data,
		Value: call.Value,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("合约调用失败: %w", err)
	}
	return raw, nil
}

// SendCalls signs and submits the calls strictly in the given order. Each
// transaction must be mined successfully before the next one is signed, so
// dependent sequences such as approve-then-swap never race each other.
func (c *Client) SendCalls(ctx context.Context, calls []web3.Call) ([]common.Hash, error) {
	if c == nil || c.node == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	if c.key == nil {
		return nil, errors.New("未配置钱包私钥，无法发送交易")
	}
	if len(calls) == 0 {
		return nil, errors.New("没有可发送的交易")
	}

	hashes := make([]common.Hash, 0, len(calls))
	for i, call := range calls {
		hash, err := c.sendCall(ctx, call)
		if err != nil {
			return hashes, fmt.Errorf("第 %d 笔交易失败: %w", i+1, err)
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

func (c *Client) sendCall(ctx context.Context, call web3.Call) (common.Hash, error) {
	nonce, err := c.node.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return common.Hash{}, fmt.Errorf("查询交易计数失败: %w", err)
	}
	tip, err := c.node.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("查询小费价格失败: %w", err)
	}
	head, err := c.node.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("查询最新区块头失败: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	to := call.To
	gas, err := c.node.EstimateGas(ctx, gethcore.CallMsg{
		From:      c.sender,
		To:        &to,
		Data:      call.Data,
		Value:     value,
		GasTipCap: tip,
		GasFeeCap: feeCap,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("预估 Gas 失败: %w", err)
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      call.Data,
	})
	signed, err := coretypes.SignTx(tx, c.signer, c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := c.node.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("广播交易失败: %w", err)
	}

	receipt, err := c.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return common.Hash{}, err
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return common.Hash{}, fmt.Errorf("交易 %s 执行回滚", signed.Hash().Hex())
	}
	return signed.Hash(), nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	deadline, cancel := context.WithTimeout(ctx, c.receiptWait)
	defer cancel()

	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.node.TransactionReceipt(deadline, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, gethcore.NotFound) {
			return nil, fmt.Errorf("查询交易回执失败: %w", err)
		}
		select {
		case <-deadline.Done():
			return nil, fmt.Errorf("等待交易 %s 上链超时", hash.Hex())
		case <-ticker.C:
		}
	}
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
