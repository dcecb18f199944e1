package yield

import (
	"context"
	"fmt"
	"math/big"

	"ChainPilot/internal/defi/tokens"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/llm"
	"ChainPilot/internal/tooling"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/provider"

	"github.com/ethereum/go-ethereum/common"
)

const vaultABIJSON = `[
  {"name":"deposit","type":"function","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"shares","type":"uint256"}]},
  {"name":"redeem","type":"function","inputs":[{"name":"shares","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],"outputs":[{"name":"assets","type":"uint256"}]},
  {"name":"convertToAssets","type":"function","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"assets","type":"uint256"}]}
]`

var vaultABI = web3.MustParseABI(vaultABIJSON)

// Deps carries everything the vault tools need at dispatch time.
// Vaults are addressed through the token catalog: the vault parameter
// names the share token, whose address is the vault contract itself.
type Deps struct {
	Chains  *provider.Registry
	Catalog *tokens.Catalog
}

// Register wires the vault tools into the registry.
func Register(registry *tooling.Registry, deps Deps) error {
	for _, tool := range Tools(deps) {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Tools builds the ERC-4626 vault tool set.
func Tools(deps Deps) []*tooling.Tool {
	return []*tooling.Tool{
		{
			Name:        "depositVault",
			Description: "Deposit an asset token into an ERC-4626 vault and receive yield-bearing shares, including the required token approval.",
			Parameters: []llm.ParameterSpec{
				{Name: tooling.ParamChain, Type: "string", Required: true, Description: "Chain to operate on."},
				{Name: tooling.ParamAccount, Type: "string", Required: true, Description: "Account receiving the shares."},
				{Name: "vault", Type: "string", Required: true, Description: "Symbol of the vault share token."},
				{Name: "token", Type: "string", Required: true, Description: "Symbol of the asset token to deposit."},
				{Name: "amount", Type: "string", Required: true, Description: "Human-readable amount of the asset token."},
			},
			Handler: deps.depositVault,
		},
		{
			Name:        "redeemVault",
			Description: "Redeem ERC-4626 vault shares back into the underlying asset.",
			Parameters: []llm.ParameterSpec{
				{Name: tooling.ParamChain, Type: "string", Required: true, Description: "Chain to operate on."},
				{Name: tooling.ParamAccount, Type: "string", Required: true, Description: "Account receiving the assets."},
				{Name: "vault", Type: "string", Required: true, Description: "Symbol of the vault share token."},
				{Name: "amount", Type: "string", Required: true, Description: "Human-readable amount of shares to redeem."},
			},
			Handler: deps.redeemVault,
		},
		{
			Name:        "getVaultRate",
			Description: "Read how much of the underlying asset one vault share is currently worth.",
			Parameters: []llm.ParameterSpec{
				{Name: tooling.ParamChain, Type: "string", Required: true, Description: "Chain to operate on."},
				{Name: tooling.ParamAccount, Type: "string", Required: true, Description: "Calling account."},
				{Name: "vault", Type: "string", Required: true, Description: "Symbol of the vault share token."},
				{Name: "token", Type: "string", Required: true, Description: "Symbol of the underlying asset token."},
			},
			Handler: deps.getVaultRate,
		},
	}
}

func (d Deps) resolveVault(chain, vault string) (web3.Client, tokens.Token, *tooling.Result) {
	client, err := d.Chains.ClientFor(chain)
	if err != nil {
		res := tooling.Fail(xerrors.CodeUnsupportedChain, "Chain %s is not supported.", chain)
		return nil, tokens.Token{}, &res
	}
	share, err := d.Catalog.Resolve(chain, vault)
	if err != nil {
		res := tooling.Fail(xerrors.CodeOf(err), "Vault %s is not available on chain %s.", vault, chain)
		return nil, tokens.Token{}, &res
	}
	if share.Native {
		res := tooling.Fail(xerrors.CodeInvalidArgument, "%s is the native token, not a vault.", share.Symbol)
		return nil, tokens.Token{}, &res
	}
	return client, share, nil
}

func recipientAddress(session tooling.Session) (common.Address, *tooling.Result) {
	if !common.IsHexAddress(session.Account) {
		res := tooling.Fail(xerrors.CodeInvalidArgument, "Account %q is not a valid address.", session.Account)
		return common.Address{}, &res
	}
	return common.HexToAddress(session.Account), nil
}

func (d Deps) depositVault(ctx context.Context, args tooling.Args, session tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	client, share, failed := d.resolveVault(chain, args.String("vault"))
	if failed != nil {
		return *failed
	}
	asset, err := d.Catalog.Resolve(chain, args.String("token"))
	if err != nil {
		return tooling.Fail(xerrors.CodeOf(err), "Token %s is not available on chain %s.", args.String("token"), chain)
	}
	if asset.Native {
		return tooling.Fail(xerrors.CodeInvalidArgument, "Vault deposits need an ERC-20 asset; wrap %s first.", asset.Symbol)
	}
	value, err := tokens.ParsePositiveAmount(args.String("amount"), asset.Decimals)
	if err != nil {
		return tooling.Fail(xerrors.CodeInvalidArgument, "Invalid amount %q for token %s.", args.String("amount"), asset.Symbol)
	}
	recipient, res := recipientAddress(session)
	if res != nil {
		return *res
	}

	data, err := vaultABI.Pack("deposit", value, recipient)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnknown, "Failed to encode the deposit call: %v", err)
	}
	calls := []web3.Call{
		web3.ERC20Approve(asset.Address, share.Address, value),
		{To: share.Address, Data: data},
	}

	session.Notify(fmt.Sprintf("Depositing %s %s into the %s vault...", args.String("amount"), asset.Symbol, share.Symbol))
	hashes, err := client.SendCalls(ctx, calls)
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Vault deposit failed: %v", err)
	}
	return tooling.Ok(fmt.Sprintf(
		"Successfully deposited %s %s into the %s vault. %s",
		args.String("amount"), asset.Symbol, share.Symbol, hashes[len(hashes)-1].Hex(),
	))
}

func (d Deps) redeemVault(ctx context.Context, args tooling.Args, session tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	client, share, failed := d.resolveVault(chain, args.String("vault"))
	if failed != nil {
		return *failed
	}
	value, err := tokens.ParsePositiveAmount(args.String("amount"), share.Decimals)
	if err != nil {
		return tooling.Fail(xerrors.CodeInvalidArgument, "Invalid amount %q for token %s.", args.String("amount"), share.Symbol)
	}
	recipient, res := recipientAddress(session)
	if res != nil {
		return *res
	}

	data, err := vaultABI.Pack("redeem", value, recipient, recipient)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnknown, "Failed to encode the redeem call: %v", err)
	}

	session.Notify(fmt.Sprintf("Redeeming %s %s shares...", args.String("amount"), share.Symbol))
	hashes, err := client.SendCalls(ctx, []web3.Call{{To: share.Address, Data: data}})
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Vault redemption failed: %v", err)
	}
	return tooling.Ok(fmt.Sprintf(
		"Successfully redeemed %s %s shares. %s",
		args.String("amount"), share.Symbol, hashes[len(hashes)-1].Hex(),
	))
}

func (d Deps) getVaultRate(ctx context.Context, args tooling.Args, session tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	client, share, failed := d.resolveVault(chain, args.String("vault"))
	if failed != nil {
		return *failed
	}
	asset, err := d.Catalog.Resolve(chain, args.String("token"))
	if err != nil {
		return tooling.Fail(xerrors.CodeOf(err), "Token %s is not available on chain %s.", args.String("token"), chain)
	}

	oneShare := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(share.Decimals)), nil)
	data, err := vaultABI.Pack("convertToAssets", oneShare)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnknown, "Failed to encode the rate query: %v", err)
	}
	raw, err := client.CallContract(ctx, web3.Call{To: share.Address, Data: data})
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Rate query failed: %v", err)
	}
	assets, err := web3.UnpackUint256(raw)
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "The vault returned an unreadable rate.")
	}

	return tooling.Ok(fmt.Sprintf(
		"1 %s is currently worth %s %s.",
		share.Symbol, tokens.FormatAmount(assets, asset.Decimals), asset.Symbol,
	))
}
