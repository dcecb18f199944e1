package ethereum

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"ChainPilot/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

const testWalletKey = "0000000000000000000000000000000000000000000000000000000000000001"

// scriptedNode 以内存状态模拟节点行为，记录提交顺序。
type scriptedNode struct {
	nonce     uint64
	sent      []*coretypes.Transaction
	receipts  map[common.Hash]*coretypes.Receipt
	failAfter int
}

func newScriptedNode() *scriptedNode {
	return &scriptedNode{receipts: map[common.Hash]*coretypes.Receipt{}, failAfter: -1}
}

func (n *scriptedNode) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(146), nil }

func (n *scriptedNode) BlockNumber(ctx context.Context) (uint64, error) { return 4096, nil }

func (n *scriptedNode) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (n *scriptedNode) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return n.nonce, nil
}

func (n *scriptedNode) HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error) {
	return &coretypes.Header{BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (n *scriptedNode) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (n *scriptedNode) EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (n *scriptedNode) CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return common.LeftPadBytes(big.NewInt(42).Bytes(), 32), nil
}

func (n *scriptedNode) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	n.sent = append(n.sent, tx)
	status := coretypes.ReceiptStatusSuccessful
	if n.failAfter >= 0 && len(n.sent) > n.failAfter {
		status = coretypes.ReceiptStatusFailed
	}
	n.receipts[tx.Hash()] = &coretypes.Receipt{Status: status, TxHash: tx.Hash()}
	n.nonce++
	return nil
}

func (n *scriptedNode) TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	receipt, ok := n.receipts[txHash]
	if !ok {
		return nil, gethcore.NotFound
	}
	return receipt, nil
}

func newTestClient(t *testing.T, backend node) *Client {
	t.Helper()
	client, err := NewClientWithNode(backend, Config{
		Name:        "sonic",
		ChainID:     146,
		WalletKey:   testWalletKey,
		ReceiptPoll: time.Millisecond,
		ReceiptWait: time.Second,
	})
	if err != nil {
		t.Fatalf("构造客户端失败: %v", err)
	}
	return client
}

func TestSendCallsPreservesOrder(t *testing.T) {
	backend := newScriptedNode()
	client := newTestClient(t, backend)

	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	router := common.HexToAddress("0x2222222222222222222222222222222222222222")
	approve := web3.ERC20Approve(token, router, big.NewInt(500))
	swap := web3.Call{To: router, Data: []byte{0xde, 0xad}}

	hashes, err := client.SendCalls(context.Background(), []web3.Call{approve, swap})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hashes) != 2 || len(backend.sent) != 2 {
		t.Fatalf("expected two submitted transactions, got %d", len(backend.sent))
	}
	if *backend.sent[0].To() != token || *backend.sent[1].To() != router {
		t.Fatalf("submission order broken")
	}
	if backend.sent[0].Nonce() != 0 || backend.sent[1].Nonce() != 1 {
		t.Fatalf("nonces out of sequence: %d, %d", backend.sent[0].Nonce(), backend.sent[1].Nonce())
	}
}

func TestSendCallsStopsOnRevert(t *testing.T) {
	backend := newScriptedNode()
	backend.failAfter = 1
	client := newTestClient(t, backend)

	calls := []web3.Call{
		{To: common.HexToAddress("0x01"), Data: []byte{0x01}},
		{To: common.HexToAddress("0x02"), Data: []byte{0x02}},
		{To: common.HexToAddress("0x03"), Data: []byte{0x03}},
	}
	hashes, err := client.SendCalls(context.Background(), calls)
	if err == nil {
		t.Fatalf("expected revert error")
	}
	if !strings.Contains(err.Error(), "回滚") {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hashes) != 1 {
		t.Fatalf("only the first transaction should have succeeded, got %d", len(hashes))
	}
	if len(backend.sent) != 2 {
		t.Fatalf("third transaction must not be submitted after a revert, sent %d", len(backend.sent))
	}
}

func TestSendCallsRequiresWalletKey(t *testing.T) {
	client, err := NewClientWithNode(newScriptedNode(), Config{Name: "sonic", ChainID: 146})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.SendCalls(context.Background(), []web3.Call{{To: common.HexToAddress("0x01")}}); err == nil {
		t.Fatalf("expected error without a wallet key")
	}
}

func TestFetchChainSnapshot(t *testing.T) {
	client := newTestClient(t, newScriptedNode())
	snapshot, err := client.FetchChainSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.ChainID != "0x92" || snapshot.BlockNumber != "0x1000" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}
