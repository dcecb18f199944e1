package yield

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"ChainPilot/internal/defi/tokens"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/tooling"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/provider"

	"github.com/ethereum/go-ethereum/common"
)

type stubChain struct {
	batches  [][]web3.Call
	readData []byte
}

func (s *stubChain) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{}, nil
}

func (s *stubChain) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (s *stubChain) CallContract(ctx context.Context, call web3.Call) ([]byte, error) {
	return s.readData, nil
}

func (s *stubChain) SendCalls(ctx context.Context, calls []web3.Call) ([]common.Hash, error) {
	s.batches = append(s.batches, calls)
	hashes := make([]common.Hash, len(calls))
	for i := range calls {
		hashes[i] = common.BytesToHash([]byte{0xcc, byte(i)})
	}
	return hashes, nil
}

func (s *stubChain) Sender() common.Address { return common.Address{} }

func (s *stubChain) Close() {}

func newTestDeps(t *testing.T) (Deps, *stubChain) {
	t.Helper()
	chain := &stubChain{}
	registry := provider.NewStaticRegistry("sonic",
		map[string]web3.Client{"sonic": chain},
		map[string]web3.ChainDefinition{"sonic": {ChainID: 146}},
	)
	return Deps{Chains: registry, Catalog: tokens.Default()}, chain
}

func testSession() tooling.Session {
	return tooling.Session{Chain: "sonic", Account: "0x00000000000000000000000000000000000A11CE"}
}

func TestDepositVaultBatchesApprovalBeforeDeposit(t *testing.T) {
	deps, chain := newTestDeps(t)

	result := deps.depositVault(context.Background(), tooling.Args{
		tooling.ParamChain:   "sonic",
		tooling.ParamAccount: testSession().Account,
		"vault":              "stS",
		"token":              "wS",
		"amount":             "10",
	}, testSession())
	if !result.OK {
		t.Fatalf("unexpected failure: %+v", result)
	}
	if !strings.Contains(result.Data, "Successfully deposited 10 wS into the stS vault") {
		t.Fatalf("unexpected payload: %q", result.Data)
	}

	batch := chain.batches[0]
	if len(batch) != 2 {
		t.Fatalf("expected approve then deposit, got %d calls", len(batch))
	}
	ws, _ := deps.Catalog.Resolve("sonic", "wS")
	sts, _ := deps.Catalog.Resolve("sonic", "stS")
	if batch[0].To != ws.Address || batch[1].To != sts.Address {
		t.Fatalf("unexpected call order: %s then %s", batch[0].To, batch[1].To)
	}
}

func TestDepositVaultRejectsNativeAsset(t *testing.T) {
	deps, chain := newTestDeps(t)

	result := deps.depositVault(context.Background(), tooling.Args{
		tooling.ParamChain:   "sonic",
		tooling.ParamAccount: testSession().Account,
		"vault":              "stS",
		"token":              "S",
		"amount":             "10",
	}, testSession())
	if result.OK || result.Code != xerrors.CodeInvalidArgument {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(chain.batches) != 0 {
		t.Fatalf("nothing may be submitted after a validation failure")
	}
}

func TestRedeemVaultIsSingleCall(t *testing.T) {
	deps, chain := newTestDeps(t)

	result := deps.redeemVault(context.Background(), tooling.Args{
		tooling.ParamChain:   "sonic",
		tooling.ParamAccount: testSession().Account,
		"vault":              "stS",
		"amount":             "5",
	}, testSession())
	if !result.OK {
		t.Fatalf("unexpected failure: %+v", result)
	}
	if len(chain.batches[0]) != 1 {
		t.Fatalf("redeeming must not need an approval, got %d calls", len(chain.batches[0]))
	}
}

func TestGetVaultRate(t *testing.T) {
	deps, chain := newTestDeps(t)

	rate, _ := tokens.ParseAmount("1.04", 18)
	chain.readData = common.LeftPadBytes(rate.Bytes(), 32)

	result := deps.getVaultRate(context.Background(), tooling.Args{
		tooling.ParamChain:   "sonic",
		tooling.ParamAccount: testSession().Account,
		"vault":              "stS",
		"token":              "wS",
	}, testSession())
	if !result.OK {
		t.Fatalf("unexpected failure: %+v", result)
	}
	if !strings.Contains(result.Data, "1 stS is currently worth 1.04 wS") {
		t.Fatalf("unexpected payload: %q", result.Data)
	}
	if len(chain.batches) != 0 {
		t.Fatalf("read tools must not submit transactions")
	}
}

func TestDepositVaultRejectsUnknownVault(t *testing.T) {
	deps, _ := newTestDeps(t)

	result := deps.depositVault(context.Background(), tooling.Args{
		tooling.ParamChain:   "sonic",
		tooling.ParamAccount: testSession().Account,
		"vault":              "yvUSDC",
		"token":              "USDC",
		"amount":             "10",
	}, testSession())
	if result.OK || result.Code != xerrors.CodeNotFound {
		t.Fatalf("unexpected result: %+v", result)
	}
}
