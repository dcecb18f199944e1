package wallet

import (
	"context"
	"fmt"
	"strings"

	"ChainPilot/internal/defi/tokens"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/llm"
	"ChainPilot/internal/tooling"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/provider"

	"github.com/ethereum/go-ethereum/common"
)

// Deps carries everything the wallet tools need at dispatch time.
type Deps struct {
	Chains  *provider.Registry
	Catalog *tokens.Catalog
}

// Register wires the wallet tools into the registry.
func Register(registry *tooling.Registry, deps Deps) error {
	for _, tool := range Tools(deps) {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Tools builds the wallet tool set.
func Tools(deps Deps) []*tooling.Tool {
	return []*tooling.Tool{
		{
			Name:        "checkBalance",
			Description: "Report the account's balance of the native token or a named ERC-20 token.",
			Parameters: []llm.ParameterSpec{
				{Name: tooling.ParamChain, Type: "string", Required: true, Description: "Chain to query."},
				{Name: tooling.ParamAccount, Type: "string", Required: true, Description: "Account whose balance is reported."},
				{Name: "token", Type: "string", Required: false, Description: "Token symbol. Empty means the chain's native token."},
			},
			Handler: deps.checkBalance,
		},
		{
			Name:        "getChainStatus",
			Description: "Report the chain id and latest block number of the connected chain.",
			Parameters: []llm.ParameterSpec{
				{Name: tooling.ParamChain, Type: "string", Required: true, Description: "Chain to query."},
			},
			Handler: deps.getChainStatus,
		},
	}
}

func (d Deps) checkBalance(ctx context.Context, args tooling.Args, session tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	client, err := d.Chains.ClientFor(chain)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnsupportedChain, "Chain %s is not supported.", chain)
	}
	if !common.IsHexAddress(session.Account) {
		return tooling.Fail(xerrors.CodeInvalidArgument, "Account %q is not a valid address.", session.Account)
	}
	account := common.HexToAddress(session.Account)

	symbol := strings.TrimSpace(args.String("token"))
	var token tokens.Token
	if symbol == "" {
		token, err = d.Catalog.Native(chain)
		if err != nil {
			return tooling.Fail(xerrors.CodeConfiguration, "No native token is registered on chain %s.", chain)
		}
	} else {
		token, err = d.Catalog.Resolve(chain, symbol)
		if err != nil {
			return tooling.Fail(xerrors.CodeNotFound, "Token %q is not known on chain %s.", symbol, chain)
		}
	}

	if token.Native {
		balance, err := client.NativeBalance(ctx, account)
		if err != nil {
			return tooling.Fail(xerrors.CodeUpstreamFailure, "Balance query failed: %v", err)
		}
		return tooling.Ok(fmt.Sprintf("Balance of %s: %s %s.", session.Account, tokens.FormatAmount(balance, token.Decimals), token.Symbol))
	}

	raw, err := client.CallContract(ctx, web3.ERC20BalanceOf(token.Address, account))
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Balance query failed: %v", err)
	}
	balance, err := web3.UnpackUint256(raw)
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "The token contract returned unreadable balance data.")
	}
	return tooling.Ok(fmt.Sprintf("Balance of %s: %s %s.", session.Account, tokens.FormatAmount(balance, token.Decimals), token.Symbol))
}

func (d Deps) getChainStatus(ctx context.Context, args tooling.Args, _ tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	client, err := d.Chains.ClientFor(chain)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnsupportedChain, "Chain %s is not supported.", chain)
	}
	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Chain status query failed: %v", err)
	}
	status := fmt.Sprintf("Chain id %s is at block %s.", snapshot.ChainID, snapshot.BlockNumber)
	if snapshot.Notes != "" {
		status += " " + snapshot.Notes
	}
	return tooling.Ok(status)
}
