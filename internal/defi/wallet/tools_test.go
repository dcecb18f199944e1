package wallet

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

// stubChain 返回预置的余额与链状态，并记录收到的合约查询。
type stubChain struct {
	native   *big.Int
	erc20    *big.Int
	snapshot web3.ChainSnapshot
	calls    []web3.Call
}

func (s *stubChain) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	return s.snapshot, nil
}

func (s *stubChain) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return s.native, nil
}

func (s *stubChain) CallContract(ctx context.Context, call web3.Call) ([]byte, error) {
	s.calls = append(s.calls, call)
	return common.LeftPadBytes(s.erc20.Bytes(), 32), nil
}

func (s *stubChain) SendCalls(ctx context.Context, calls []web3.Call) ([]common.Hash, error) {
	return nil, nil
}

func (s *stubChain) Sender() common.Address { return common.HexToAddress("0xfeed") }

func (s *stubChain) Close() {}

const testAccount = "0x00000000000000000000000000000000000A11CE"

func newTestDeps(chain *stubChain) Deps {
	registry := provider.NewStaticRegistry("sonic",
		map[string]web3.Client{"sonic": chain},
		map[string]web3.ChainDefinition{"sonic": {ChainID: 146}},
	)
	return Deps{Chains: registry, Catalog: tokens.Default()}
}

func testSession() tooling.Session {
	return tooling.Session{Chain: "sonic", Account: testAccount}
}

func TestCheckBalanceNative(t *testing.T) {
	chain := &stubChain{native: big.NewInt(5e18)}
	deps := newTestDeps(chain)

	result := deps.checkBalance(context.Background(), tooling.Args{
		tooling.ParamChain:   "sonic",
		tooling.ParamAccount: testAccount,
	}, testSession())

	if !result.OK {
		t.Fatalf("expected success, got %s", result.Data)
	}
	if !strings.Contains(result.Data, "5 S.") {
		t.Fatalf("unexpected payload: %s", result.Data)
	}
	if len(chain.calls) != 0 {
		t.Fatalf("native balance must not call a contract: %d", len(chain.calls))
	}
}

func TestCheckBalanceERC20(t *testing.T) {
	chain := &stubChain{erc20: big.NewInt(2_500_000)}
	deps := newTestDeps(chain)

	result := deps.checkBalance(context.Background(), tooling.Args{
		tooling.ParamChain:   "sonic",
		tooling.ParamAccount: testAccount,
		"token":              "usdc",
	}, testSession())

	if !result.OK {
		t.Fatalf("expected success, got %s", result.Data)
	}
	if !strings.Contains(result.Data, "2.5 USDC.") {
		t.Fatalf("unexpected payload: %s", result.Data)
	}
	if len(chain.calls) != 1 {
		t.Fatalf("expected one contract query, got %d", len(chain.calls))
	}
	usdc, err := tokens.Default().Resolve("sonic", "USDC")
	if err != nil {
		t.Fatalf("resolve usdc: %v", err)
	}
	if chain.calls[0].To != usdc.Address {
		t.Fatalf("query sent to the wrong contract: %s", chain.calls[0].To)
	}
}

func TestCheckBalanceUnknownToken(t *testing.T) {
	deps := newTestDeps(&stubChain{})

	result := deps.checkBalance(context.Background(), tooling.Args{
		tooling.ParamChain:   "sonic",
		tooling.ParamAccount: testAccount,
		"token":              "DOGE",
	}, testSession())

	if result.OK || result.Code != xerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND failure, got %+v", result)
	}
}

func TestCheckBalanceRejectsBadAccount(t *testing.T) {
	deps := newTestDeps(&stubChain{})

	session := tooling.Session{Chain: "sonic", Account: "not-an-address"}
	result := deps.checkBalance(context.Background(), tooling.Args{
		tooling.ParamChain:   "sonic",
		tooling.ParamAccount: "not-an-address",
	}, session)

	if result.OK || result.Code != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT failure, got %+v", result)
	}
}

func TestGetChainStatus(t *testing.T) {
	chain := &stubChain{snapshot: web3.ChainSnapshot{ChainID: "146", BlockNumber: "4096", Notes: "Sonic mainnet."}}
	deps := newTestDeps(chain)

	result := deps.getChainStatus(context.Background(), tooling.Args{tooling.ParamChain: "sonic"}, testSession())
	if !result.OK {
		t.Fatalf("expected success, got %s", result.Data)
	}
	if result.Data != "Chain id 146 is at block 4096. Sonic mainnet." {
		t.Fatalf("unexpected payload: %s", result.Data)
	}
}
