package voteescrow

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"ChainPilot/internal/defi/tokens"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/llm"
	"ChainPilot/internal/tooling"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/provider"

	"github.com/ethereum/go-ethereum/common"
)

// RoleVoteEscrow is the chain configuration key of the escrow contract.
const RoleVoteEscrow = "vote_escrow"

// lockTokenSymbol is the protocol token accepted by the escrow.
const lockTokenSymbol = "BEETS"

const (
	secondsPerWeek = 7 * 24 * 60 * 60
	minLockWeeks   = 1
	maxLockWeeks   = 104
)

const escrowABIJSON = `[
  {"name":"createLock","type":"function","inputs":[{"name":"amount","type":"uint256"},{"name":"duration","type":"uint256"}],"outputs":[{"name":"tokenId","type":"uint256"}]},
  {"name":"increaseAmount","type":"function","inputs":[{"name":"tokenId","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"name":"claimBribes","type":"function","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"name":"locked","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"amount","type":"uint256"},{"name":"end","type":"uint256"}]}
]`

var escrowABI = web3.MustParseABI(escrowABIJSON)

// Deps carries everything the vote-escrow tools need at dispatch time.
type Deps struct {
	Chains  *provider.Registry
	Catalog *tokens.Catalog
}

// Register wires the vote-escrow tools into the registry.
func Register(registry *tooling.Registry, deps Deps) error {
	for _, tool := range Tools(deps) {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Tools builds the vote-escrow tool set.
func Tools(deps Deps) []*tooling.Tool {
	return []*tooling.Tool{
		{
			Name:        "createLock",
			Description: "Lock BEETS in the vote-escrow contract for a number of weeks to receive voting power.",
			Parameters: []llm.ParameterSpec{
				{Name: tooling.ParamChain, Type: "string", Required: true, Description: "Chain to operate on."},
				{Name: tooling.ParamAccount, Type: "string", Required: true, Description: "Account owning the lock."},
				{Name: "amount", Type: "string", Required: true, Description: "Human-readable amount of BEETS to lock."},
				{Name: "duration_weeks", Type: "string", Required: true, Description: "Lock duration in weeks, 1 to 104."},
			},
			Handler: deps.createLock,
		},
		{
			Name:        "increaseLockAmount",
			Description: "Add more BEETS to an existing vote-escrow lock.",
			Parameters: []llm.ParameterSpec{
				{Name: tooling.ParamChain, Type: "string", Required: true, Description: "Chain to operate on."},
				{Name: tooling.ParamAccount, Type: "string", Required: true, Description: "Account owning the lock."},
				{Name: "lock_id", Type: "string", Required: true, Description: "Numeric id of the lock."},
				{Name: "amount", Type: "string", Required: true, Description: "Human-readable amount of BEETS to add."},
			},
			Handler: deps.increaseLockAmount,
		},
		{
			Name:        "claimBribes",
			Description: "Claim the bribe rewards accrued by a vote-escrow lock.",
			Parameters: []llm.ParameterSpec{
				{Name: tooling.ParamChain, Type: "string", Required: true, Description: "Chain to operate on."},
				{Name: tooling.ParamAccount, Type: "string", Required: true, Description: "Account owning the lock."},
				{Name: "lock_id", Type: "string", Required: true, Description: "Numeric id of the lock."},
			},
			Handler: deps.claimBribes,
		},
		{
			Name:        "getLockInfo",
			Description: "Inspect a vote-escrow lock: locked amount and unlock time.",
			Parameters: []llm.ParameterSpec{
				{Name: tooling.ParamChain, Type: "string", Required: true, Description: "Chain to operate on."},
				{Name: tooling.ParamAccount, Type: "string", Required: true, Description: "Account owning the lock."},
				{Name: "lock_id", Type: "string", Required: true, Description: "Numeric id of the lock."},
			},
			Handler: deps.getLockInfo,
		},
	}
}

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
	addr, ok := def.Contract(RoleVoteEscrow)
	if !ok {
		res := tooling.Fail(xerrors.CodeConfiguration, "No vote-escrow contract is configured on chain %s.", chain)
		return nil, common.Address{}, tokens.Token{}, &res
	}
	lockToken, err := d.Catalog.Resolve(chain, lockTokenSymbol)
	if err != nil {
		res := tooling.Fail(xerrors.CodeConfiguration, "Token %s is not registered on chain %s.", lockTokenSymbol, chain)
		return nil, common.Address{}, tokens.Token{}, &res
	}
	return client, common.HexToAddress(addr), lockToken, nil
}

func parseLockID(raw string) (*big.Int, *tooling.Result) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		res := tooling.Fail(xerrors.CodeInvalidArgument, "Invalid lock id %q.", raw)
		return nil, &res
	}
	return new(big.Int).SetUint64(id), nil
}

func (d Deps) createLock(ctx context.Context, args tooling.Args, session tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	client, escrow, lockToken, failed := d.resolve(chain)
	if failed != nil {
		return *failed
	}
	value, err := tokens.ParsePositiveAmount(args.String("amount"), lockToken.Decimals)
	if err != nil {
		return tooling.Fail(xerrors.CodeInvalidArgument, "Invalid amount %q for token %s.", args.String("amount"), lockToken.Symbol)
	}
	weeks, err := strconv.ParseUint(strings.TrimSpace(args.String("duration_weeks")), 10, 32)
	if err != nil || weeks < minLockWeeks || weeks > maxLockWeeks {
		return tooling.Fail(xerrors.CodeInvalidArgument,
			"Invalid lock duration %q: expected %d to %d weeks.", args.String("duration_weeks"), minLockWeeks, maxLockWeeks)
	}
	duration := new(big.Int).SetUint64(weeks * secondsPerWeek)

	data, err := escrowABI.Pack("createLock", value, duration)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnknown, "Failed to encode the lock call: %v", err)
	}
	calls := []web3.Call{
		web3.ERC20Approve(lockToken.Address, escrow, value),
		{To: escrow, Data: data},
	}

	session.Notify(fmt.Sprintf("Locking %s %s for %d weeks...", args.String("amount"), lockToken.Symbol, weeks))
	hashes, err := client.SendCalls(ctx, calls)
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Creating the lock failed: %v", err)
	}
	return tooling.Ok(fmt.Sprintf(
		"Successfully locked %s %s for %d weeks. %s",
		args.String("amount"), lockToken.Symbol, weeks, hashes[len(hashes)-1].Hex(),
	))
}

func (d Deps) increaseLockAmount(ctx context.Context, args tooling.Args, session tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	client, escrow, lockToken, failed := d.resolve(chain)
	if failed != nil {
		return *failed
	}
	lockID, failed := parseLockID(args.String("lock_id"))
	if failed != nil {
		return *failed
	}
	value, err := tokens.ParsePositiveAmount(args.String("amount"), lockToken.Decimals)
	if err != nil {
		return tooling.Fail(xerrors.CodeInvalidArgument, "Invalid amount %q for token %s.", args.String("amount"), lockToken.Symbol)
	}

	data, err := escrowABI.Pack("increaseAmount", lockID, value)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnknown, "Failed to encode the increase call: %v", err)
	}
	calls := []web3.Call{
		web3.ERC20Approve(lockToken.Address, escrow, value),
		{To: escrow, Data: data},
	}

	session.Notify(fmt.Sprintf("Adding %s %s to lock %s...", args.String("amount"), lockToken.Symbol, lockID))
	hashes, err := client.SendCalls(ctx, calls)
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Increasing the lock failed: %v", err)
	}
	return tooling.Ok(fmt.Sprintf(
		"Successfully added %s %s to lock %s. %s",
		args.String("amount"), lockToken.Symbol, lockID, hashes[len(hashes)-1].Hex(),
	))
}

func (d Deps) claimBribes(ctx context.Context, args tooling.Args, session tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	client, escrow, _, failed := d.resolve(chain)
	if failed != nil {
		return *failed
	}
	lockID, failed := parseLockID(args.String("lock_id"))
	if failed != nil {
		return *failed
	}

	data, err := escrowABI.Pack("claimBribes", lockID)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnknown, "Failed to encode the claim call: %v", err)
	}

	session.Notify(fmt.Sprintf("Claiming bribes for lock %s...", lockID))
	hashes, err := client.SendCalls(ctx, []web3.Call{{To: escrow, Data: data}})
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Claiming bribes failed: %v", err)
	}
	return tooling.Ok(fmt.Sprintf(
		"Successfully claimed the bribe rewards of lock %s. %s",
		lockID, hashes[len(hashes)-1].Hex(),
	))
}

func (d Deps) getLockInfo(ctx context.Context, args tooling.Args, session tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	client, escrow, lockToken, failed := d.resolve(chain)
	if failed != nil {
		return *failed
	}
	lockID, failed := parseLockID(args.String("lock_id"))
	if failed != nil {
		return *failed
	}

	data, err := escrowABI.Pack("locked", lockID)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnknown, "Failed to encode the lock query: %v", err)
	}
	raw, err := client.CallContract(ctx, web3.Call{To: escrow, Data: data})
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Lock query failed: %v", err)
	}
	out, err := escrowABI.Unpack("locked", raw)
	if err != nil || len(out) < 2 {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "The escrow contract returned unreadable lock data.")
	}
	amount := out[0].(*big.Int)
	end := out[1].(*big.Int)
	if amount.Sign() == 0 {
		return tooling.Ok(fmt.Sprintf("Lock %s does not exist or holds no tokens.", lockID))
	}

	unlock := time.Unix(end.Int64(), 0).UTC()
	return tooling.Ok(fmt.Sprintf(
		"Lock %s holds %s %s until %s.",
		lockID, tokens.FormatAmount(amount, lockToken.Decimals), lockToken.Symbol,
		unlock.Format("2006-01-02"),
	))
}
