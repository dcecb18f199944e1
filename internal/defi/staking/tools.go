package staking

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"ChainPilot/internal/defi/tokens"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/llm"
	"ChainPilot/internal/tooling"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/provider"

	"github.com/ethereum/go-ethereum/common"
)

// RoleStaking is the chain configuration key of the staking contract.
const RoleStaking = "staking"

const stakingABIJSON = `[
  {"name":"delegate","type":"function","stateMutability":"payable","inputs":[{"name":"toValidatorID","type":"uint256"}],"outputs":[]},
  {"name":"undelegate","type":"function","inputs":[{"name":"toValidatorID","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"name":"getStake","type":"function","stateMutability":"view","inputs":[{"name":"delegator","type":"address"},{"name":"toValidatorID","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"getValidator","type":"function","stateMutability":"view","inputs":[{"name":"validatorID","type":"uint256"}],"outputs":[{"name":"status","type":"uint256"},{"name":"receivedStake","type":"uint256"},{"name":"auth","type":"address"}]}
]`

var stakingABI = web3.MustParseABI(stakingABIJSON)

// Deps carries everything the staking tools need at dispatch time.
type Deps struct {
	Chains  *provider.Registry
	Catalog *tokens.Catalog
}

// Register wires the staking tools into the registry.
func Register(registry *tooling.Registry, deps Deps) error {
	for _, tool := range Tools(deps) {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Tools builds the staking tool set.
func Tools(deps Deps) []*tooling.Tool {
	return []*tooling.Tool{
		{
			Name:        "stakeDeposit",
			Description: "Delegate an amount of the native token to a validator.",
			Parameters: []llm.ParameterSpec{
				{Name: tooling.ParamChain, Type: "string", Required: true, Description: "Chain to operate on."},
				{Name: tooling.ParamAccount, Type: "string", Required: true, Description: "Delegating account."},
				{Name: "validator_id", Type: "string", Required: true, Description: "Numeric id of the validator."},
				{Name: "amount", Type: "string", Required: true, Description: "Human-readable amount of the native token."},
			},
			Handler: deps.stakeDeposit,
		},
		{
			Name:        "undelegate",
			Description: "Withdraw a delegated amount of the native token from a validator.",
			Parameters: []llm.ParameterSpec{
				{Name: tooling.ParamChain, Type: "string", Required: true, Description: "Chain to operate on."},
				{Name: tooling.ParamAccount, Type: "string", Required: true, Description: "Delegating account."},
				{Name: "validator_id", Type: "string", Required: true, Description: "Numeric id of the validator."},
				{Name: "amount", Type: "string", Required: true, Description: "Human-readable amount of the native token."},
			},
			Handler: deps.undelegate,
		},
		{
			Name:        "getValidatorInfo",
			Description: "Inspect a validator: status, total received stake and the caller's own delegated stake.",
			Parameters: []llm.ParameterSpec{
				{Name: tooling.ParamChain, Type: "string", Required: true, Description: "Chain to operate on."},
				{Name: tooling.ParamAccount, Type: "string", Required: true, Description: "Account whose stake is reported."},
				{Name: "validator_id", Type: "string", Required: true, Description: "Numeric id of the validator."},
			},
			Handler: deps.getValidatorInfo,
		},
	}
}

// resolve pins down the staking contract and native token of the chain.
func (d Deps) resolve(chain string) (web3.Client, common.Address, tokens.Token, *tooling.Result) {
	client, err := d.Chains.ClientFor(chain)
	if err != nil {
		res := tooling.Fail(xerrors.CodeUnsupportedChain, "Chain %s is not supported.", chain)
		return nil, common.Address{}, tokens.Token{}, &res
	}
	def, err := d.Chains.Definition(chain)
	if err != nil {
		res := tooling.Fail(xerrors.CodeUnsupportedChain, "Chain %s is not supported.", chain)
		return nil, common.Address{}, tokens.Token{}, &res
	}
	addr, ok := def.Contract(RoleStaking)
	if !ok {
		res := tooling.Fail(xerrors.CodeConfiguration, "No staking contract is configured on chain %s.", chain)
		return nil, common.Address{}, tokens.Token{}, &res
	}
	native, err := d.Catalog.Native(chain)
	if err != nil {
		res := tooling.Fail(xerrors.CodeConfiguration, "No native token is registered on chain %s.", chain)
		return nil, common.Address{}, tokens.Token{}, &res
	}
	return client, common.HexToAddress(addr), native, nil
}

func parseValidatorID(raw string) (*big.Int, *tooling.Result) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		res := tooling.Fail(xerrors.CodeInvalidArgument, "Invalid validator id %q.", raw)
		return nil, &res
	}
	return new(big.Int).SetUint64(id), nil
}

func (d Deps) stakeDeposit(ctx context.Context, args tooling.Args, session tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	client, contract, native, failed := d.resolve(chain)
	if failed != nil {
		return *failed
	}
	validatorID, failed := parseValidatorID(args.String("validator_id"))
	if failed != nil {
		return *failed
	}
	value, err := tokens.ParsePositiveAmount(args.String("amount"), native.Decimals)
	if err != nil {
		return tooling.Fail(xerrors.CodeInvalidArgument, "Invalid amount %q for token %s.", args.String("amount"), native.Symbol)
	}

	data, err := stakingABI.Pack("delegate", validatorID)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnknown, "Failed to encode the delegate call: %v", err)
	}

	session.Notify(fmt.Sprintf("Delegating %s %s to validator %s...", args.String("amount"), native.Symbol, validatorID))
	hashes, err := client.SendCalls(ctx, []web3.Call{{To: contract, Data: data, Value: value}})
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Staking deposit failed: %v", err)
	}
	return tooling.Ok(fmt.Sprintf(
		"Successfully delegated %s %s to validator %s. %s",
		args.String("amount"), native.Symbol, validatorID, hashes[len(hashes)-1].Hex(),
	))
}

func (d Deps) undelegate(ctx context.Context, args tooling.Args, session tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	client, contract, native, failed := d.resolve(chain)
	if failed != nil {
		return *failed
	}
	validatorID, failed := parseValidatorID(args.String("validator_id"))
	if failed != nil {
		return *failed
	}
	value, err := tokens.ParsePositiveAmount(args.String("amount"), native.Decimals)
	if err != nil {
		return tooling.Fail(xerrors.CodeInvalidArgument, "Invalid amount %q for token %s.", args.String("amount"), native.Symbol)
	}

	data, err := stakingABI.Pack("undelegate", validatorID, value)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnknown, "Failed to encode the undelegate call: %v", err)
	}

	session.Notify(fmt.Sprintf("Undelegating %s %s from validator %s...", args.String("amount"), native.Symbol, validatorID))
	hashes, err := client.SendCalls(ctx, []web3.Call{{To: contract, Data: data}})
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Undelegation failed: %v", err)
	}
	return tooling.Ok(fmt.Sprintf(
		"Successfully undelegated %s %s from validator %s. The withdrawal matures after the unbonding period. %s",
		args.String("amount"), native.Symbol, validatorID, hashes[len(hashes)-1].Hex(),
	))
}

func (d Deps) getValidatorInfo(ctx context.Context, args tooling.Args, session tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	client, contract, native, failed := d.resolve(chain)
	if failed != nil {
		return *failed
	}
	validatorID, failed := parseValidatorID(args.String("validator_id"))
	if failed != nil {
		return *failed
	}

	infoData, err := stakingABI.Pack("getValidator", validatorID)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnknown, "Failed to encode the validator query: %v", err)
	}
	raw, err := client.CallContract(ctx, web3.Call{To: contract, Data: infoData})
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Validator query failed: %v", err)
	}
	out, err := stakingABI.Unpack("getValidator", raw)
	if err != nil || len(out) < 3 {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "The staking contract returned unreadable validator data.")
	}
	status := out[0].(*big.Int)
	received := out[1].(*big.Int)

	ownStake := new(big.Int)
	if common.IsHexAddress(session.Account) {
		stakeData, packErr := stakingABI.Pack("getStake", common.HexToAddress(session.Account), validatorID)
		if packErr == nil {
			if rawStake, callErr := client.CallContract(ctx, web3.Call{To: contract, Data: stakeData}); callErr == nil {
				if value, unpackErr := web3.UnpackUint256(rawStake); unpackErr == nil {
					ownStake = value
				}
			}
		}
	}

	state := "active"
	if status.Sign() != 0 {
		state = fmt.Sprintf("inactive (status %s)", status)
	}
	return tooling.Ok(fmt.Sprintf(
		"Validator %s is %s with %s %s total stake. Your delegated stake: %s %s.",
		validatorID, state,
		tokens.FormatAmount(received, native.Decimals), native.Symbol,
		tokens.FormatAmount(ownStake, native.Decimals), native.Symbol,
	))
}
