package beets

import (
	"context"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"

	"ChainPilot/internal/defi/tokens"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/tooling"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/provider"

	"github.com/ethereum/go-ethereum/common"
)

// stubChain 记录提交的交易批次，返回固定哈希。
type stubChain struct {
	batches [][]web3.Call
	sendErr error
}

func (s *stubChain) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{ChainID: "0x92"}, nil
}

func (s *stubChain) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (s *stubChain) CallContract(ctx context.Context, call web3.Call) ([]byte, error) {
	return common.LeftPadBytes(big.NewInt(1).Bytes(), 32), nil
}

func (s *stubChain) SendCalls(ctx context.Context, calls []web3.Call) ([]common.Hash, error) {
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.batches = append(s.batches, calls)
	hashes := make([]common.Hash, len(calls))
	for i := range calls {
		hashes[i] = common.BytesToHash([]byte{byte(len(s.batches)), byte(i)})
	}
	return hashes, nil
}

func (s *stubChain) Sender() common.Address { return common.HexToAddress("0xfeed") }

func (s *stubChain) Close() {}

const testRouter = "0x2222222222222222222222222222222222222222"

func newTestDeps(t *testing.T) (Deps, *stubChain) {
	t.Helper()
	chain := &stubChain{}
	registry := provider.NewStaticRegistry("sonic",
		map[string]web3.Client{"sonic": chain},
		map[string]web3.ChainDefinition{"sonic": {
			ChainID:   146,
			Contracts: map[string]string{RoleSwapRouter: testRouter},
		}},
	)
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(quoteResponse()))
	}, time.Minute)
	return Deps{Chains: registry, Catalog: tokens.Default(), API: api}, chain
}

func swapArgs(in, out, amount string) tooling.Args {
	return tooling.Args{
		tooling.ParamChain:   "sonic",
		tooling.ParamAccount: "0x00000000000000000000000000000000000A11CE",
		"token_in":           in,
		"token_out":          out,
		"amount":             amount,
	}
}

func testSession() tooling.Session {
	return tooling.Session{Chain: "sonic", Account: "0x00000000000000000000000000000000000A11CE"}
}

func TestExecuteSwapExactInBatchesApprovalBeforeSwap(t *testing.T) {
	deps, chain := newTestDeps(t)

	result := deps.executeSwapExactIn(context.Background(), swapArgs("WETH", "USDC", "1"), testSession())
	if !result.OK {
		t.Fatalf("unexpected failure: %+v", result)
	}
	if !strings.Contains(result.Data, "Successfully swapped 1 WETH for about 2500 USDC") {
		t.Fatalf("unexpected payload: %q", result.Data)
	}

	if len(chain.batches) != 1 {
		t.Fatalf("expected a single batch, got %d", len(chain.batches))
	}
	batch := chain.batches[0]
	if len(batch) != 2 {
		t.Fatalf("expected approve then swap, got %d calls", len(batch))
	}
	weth, _ := deps.Catalog.Resolve("sonic", "WETH")
	if batch[0].To != weth.Address {
		t.Fatalf("first call must approve the sold token, went to %s", batch[0].To)
	}
	if batch[1].To != common.HexToAddress(testRouter) {
		t.Fatalf("second call must hit the router, went to %s", batch[1].To)
	}
}

func TestExecuteSwapExactInNativeSkipsApproval(t *testing.T) {
	deps, chain := newTestDeps(t)

	result := deps.executeSwapExactIn(context.Background(), swapArgs("S", "USDC", "2"), testSession())
	if !result.OK {
		t.Fatalf("unexpected failure: %+v", result)
	}
	batch := chain.batches[0]
	if len(batch) != 1 {
		t.Fatalf("native input must not require an approval, got %d calls", len(batch))
	}
	if batch[0].Value == nil || batch[0].Value.Cmp(big.NewInt(0)) <= 0 {
		t.Fatalf("native input must ride on the transaction value")
	}
}

func TestExecuteSwapExactInRejectsUnknownToken(t *testing.T) {
	deps, chain := newTestDeps(t)

	result := deps.executeSwapExactIn(context.Background(), swapArgs("DOGE", "USDC", "1"), testSession())
	if result.OK || result.Code != xerrors.CodeNotFound {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(chain.batches) != 0 {
		t.Fatalf("nothing may be submitted after a validation failure")
	}
}

func TestExecuteSwapExactInRejectsBadAmount(t *testing.T) {
	deps, chain := newTestDeps(t)

	for _, amount := range []string{"0", "-1", "abc"} {
		result := deps.executeSwapExactIn(context.Background(), swapArgs("USDC", "WETH", amount), testSession())
		if result.OK || result.Code != xerrors.CodeInvalidArgument {
			t.Fatalf("amount %q: unexpected result %+v", amount, result)
		}
	}
	if len(chain.batches) != 0 {
		t.Fatalf("nothing may be submitted after a validation failure")
	}
}

func TestExecuteSwapExactInRejectsBadAccount(t *testing.T) {
	deps, _ := newTestDeps(t)

	session := tooling.Session{Chain: "sonic", Account: "not-an-address"}
	result := deps.executeSwapExactIn(context.Background(), swapArgs("USDC", "WETH", "1"), session)
	if result.OK || result.Code != xerrors.CodeInvalidArgument {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestGetSwapQuoteDoesNotTouchTheChain(t *testing.T) {
	deps, chain := newTestDeps(t)

	result := deps.getSwapQuote(context.Background(), swapArgs("WETH", "USDC", "1"), testSession())
	if !result.OK {
		t.Fatalf("unexpected failure: %+v", result)
	}
	if !strings.Contains(result.Data, "2500 USDC") {
		t.Fatalf("unexpected payload: %q", result.Data)
	}
	if len(chain.batches) != 0 {
		t.Fatalf("quotes must not submit transactions")
	}
}

func TestGetPoolDetails(t *testing.T) {
	chainStub := &stubChain{}
	registry := provider.NewStaticRegistry("sonic",
		map[string]web3.Client{"sonic": chainStub},
		map[string]web3.ChainDefinition{"sonic": {}},
	)
	api, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(poolResponse()))
	}, time.Minute)
	deps := Deps{Chains: registry, Catalog: tokens.Default(), API: api}

	result := deps.getPoolDetails(context.Background(), tooling.Args{
		tooling.ParamChain: "sonic",
		"pool_id":          "0xpool",
	}, testSession())
	if !result.OK {
		t.Fatalf("unexpected failure: %+v", result)
	}
	if !strings.Contains(result.Data, "Staked Sonic Symphony") {
		t.Fatalf("unexpected payload: %q", result.Data)
	}
}

func TestAddLiquidityBatchesApprovalBeforeJoin(t *testing.T) {
	deps, chain := newTestDeps(t)

	result := deps.addLiquidity(context.Background(), tooling.Args{
		tooling.ParamChain:   "sonic",
		tooling.ParamAccount: "0x00000000000000000000000000000000000A11CE",
		"pool_id":            "0x1234",
		"token":              "USDC",
		"amount":             "100",
	}, testSession())
	if !result.OK {
		t.Fatalf("unexpected failure: %+v", result)
	}
	batch := chain.batches[0]
	if len(batch) != 2 {
		t.Fatalf("expected approve then join, got %d calls", len(batch))
	}
	usdc, _ := deps.Catalog.Resolve("sonic", "USDC")
	if batch[0].To != usdc.Address || batch[1].To != common.HexToAddress(testRouter) {
		t.Fatalf("unexpected call order: %s then %s", batch[0].To, batch[1].To)
	}
}
