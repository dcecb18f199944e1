package beets

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

// RoleSwapRouter is the chain configuration key of the router contract.
const RoleSwapRouter = "swap_router"

// defaultSlippageBps caps how far the executed price may drift from the
// quote before the router reverts the swap.
const defaultSlippageBps = 50

const routerABIJSON = `[
  {"name":"swap","type":"function","stateMutability":"payable","inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"minAmountOut","type":"uint256"},{"name":"recipient","type":"address"}],"outputs":[{"name":"amountOut","type":"uint256"}]},
  {"name":"joinPool","type":"function","inputs":[{"name":"poolId","type":"bytes32"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"recipient","type":"address"}],"outputs":[]}
]`

var routerABI = web3.MustParseABI(routerABIJSON)

// Deps carries everything the Beets tools need at dispatch time.
type Deps struct {
	Chains  *provider.Registry
	Catalog *tokens.Catalog
	API     *API
}

// Register wires the Beets tools into the registry.
func Register(registry *tooling.Registry, deps Deps) error {
	for _, tool := range Tools(deps) {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Tools builds the Beets tool set.
func Tools(deps Deps) []*tooling.Tool {
	sessionParams := []llm.ParameterSpec{
		{Name: tooling.ParamChain, Type: "string", Required: true, Description: "Chain to operate on."},
		{Name: tooling.ParamAccount, Type: "string", Required: true, Description: "Account receiving the proceeds."},
	}

	return []*tooling.Tool{
		{
			Name:        "getSwapQuote",
			Description: "Quote how much of token_out an exact amount of token_in would currently buy on the Beets aggregator.",
			Parameters: append(sessionParams[:2:2],
				llm.ParameterSpec{Name: "token_in", Type: "string", Required: true, Description: "Symbol of the token to sell."},
				llm.ParameterSpec{Name: "token_out", Type: "string", Required: true, Description: "Symbol of the token to buy."},
				llm.ParameterSpec{Name: "amount", Type: "string", Required: true, Description: "Human-readable amount of token_in."},
			),
			Handler: deps.getSwapQuote,
		},
		{
			Name:        "executeSwapExactIn",
			Description: "Swap an exact amount of token_in for token_out through the Beets router, including the required token approval.",
			Parameters: append(sessionParams[:2:2],
				llm.ParameterSpec{Name: "token_in", Type: "string", Required: true, Description: "Symbol of the token to sell."},
				llm.ParameterSpec{Name: "token_out", Type: "string", Required: true, Description: "Symbol of the token to buy."},
				llm.ParameterSpec{Name: "amount", Type: "string", Required: true, Description: "Human-readable amount of token_in."},
			),
			Handler: deps.executeSwapExactIn,
		},
		{
			Name:        "getPoolDetails",
			Description: "Fetch metadata (liquidity, APR, tokens, swap fee) of a Beets liquidity pool.",
			Parameters: append(sessionParams[:1:1],
				llm.ParameterSpec{Name: "pool_id", Type: "string", Required: true, Description: "Identifier of the pool."},
			),
			Handler: deps.getPoolDetails,
		},
		{
			Name:        "addLiquidity",
			Description: "Deposit a single token into a Beets liquidity pool, including the required token approval.",
			Parameters: append(sessionParams[:2:2],
				llm.ParameterSpec{Name: "pool_id", Type: "string", Required: true, Description: "Identifier of the pool."},
				llm.ParameterSpec{Name: "token", Type: "string", Required: true, Description: "Symbol of the token to deposit."},
				llm.ParameterSpec{Name: "amount", Type: "string", Required: true, Description: "Human-readable amount of the token."},
			),
			Handler: deps.addLiquidity,
		},
	}
}

// resolvePair maps the in/out symbols to catalog entries and parses the
// amount in token_in precision.
func (d Deps) resolvePair(chain, tokenIn, tokenOut, amount string) (tokens.Token, tokens.Token, *big.Int, *tooling.Result) {
	in, err := d.Catalog.Resolve(chain, tokenIn)
	if err != nil {
		res := tooling.Fail(xerrors.CodeOf(err), "Token %s is not available on chain %s.", tokenIn, chain)
		return tokens.Token{}, tokens.Token{}, nil, &res
	}
	out, err := d.Catalog.Resolve(chain, tokenOut)
	if err != nil {
		res := tooling.Fail(xerrors.CodeOf(err), "Token %s is not available on chain %s.", tokenOut, chain)
		return tokens.Token{}, tokens.Token{}, nil, &res
	}
	value, err := tokens.ParsePositiveAmount(amount, in.Decimals)
	if err != nil {
		res := tooling.Fail(xerrors.CodeInvalidArgument, "Invalid amount %q for token %s.", amount, in.Symbol)
		return tokens.Token{}, tokens.Token{}, nil, &res
	}
	return in, out, value, nil
}

func (d Deps) getSwapQuote(ctx context.Context, args tooling.Args, session tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	in, out, value, failed := d.resolvePair(chain, args.String("token_in"), args.String("token_out"), args.String("amount"))
	if failed != nil {
		return *failed
	}

	quote, err := d.API.SwapQuote(ctx, QuoteRequest{
		Chain:    chain,
		TokenIn:  in.Address.Hex(),
		TokenOut: out.Address.Hex(),
		AmountIn: value.String(),
	})
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Failed to fetch a swap quote: %v", err)
	}

	amountOut, err := parseRawAmount(quote.ReturnAmount)
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Aggregator returned an unreadable amount: %v", err)
	}
	return tooling.Ok(fmt.Sprintf(
		"Swapping %s %s would currently return about %s %s (price impact %s%%, %d hops).",
		args.String("amount"), in.Symbol,
		tokens.FormatAmount(amountOut, out.Decimals), out.Symbol,
		quote.PriceImpact, quote.RouteHops,
	))
}

func (d Deps) executeSwapExactIn(ctx context.Context, args tooling.Args, session tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	in, out, value, failed := d.resolvePair(chain, args.String("token_in"), args.String("token_out"), args.String("amount"))
	if failed != nil {
		return *failed
	}
	recipient, res := recipientAddress(session)
	if res != nil {
		return *res
	}

	client, err := d.Chains.ClientFor(chain)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnsupportedChain, "Chain %s is not supported.", chain)
	}
	def, err := d.Chains.Definition(chain)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnsupportedChain, "Chain %s is not supported.", chain)
	}
	routerAddr, ok := def.Contract(RoleSwapRouter)
	if !ok {
		return tooling.Fail(xerrors.CodeConfiguration, "No swap router is configured on chain %s.", chain)
	}
	router := common.HexToAddress(routerAddr)

	quote, err := d.API.SwapQuote(ctx, QuoteRequest{
		Chain:    chain,
		TokenIn:  in.Address.Hex(),
		TokenOut: out.Address.Hex(),
		AmountIn: value.String(),
	})
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Failed to fetch a swap quote: %v", err)
	}
	amountOut, err := parseRawAmount(quote.ReturnAmount)
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Aggregator returned an unreadable amount: %v", err)
	}
	minOut := applySlippage(amountOut, defaultSlippageBps)

	swapData, err := routerABI.Pack("swap", in.Address, out.Address, value, minOut, recipient)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnknown, "Failed to encode the swap call: %v", err)
	}
	swapCall := web3.Call{To: router, Data: swapData}

	var calls []web3.Call
	if in.Native {
		swapCall.Value = value
	} else {
		calls = append(calls, web3.ERC20Approve(in.Address, router, value))
	}
	calls = append(calls, swapCall)

	session.Notify(fmt.Sprintf("Swapping %s %s for %s...", args.String("amount"), in.Symbol, out.Symbol))
	hashes, err := client.SendCalls(ctx, calls)
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Swap failed: %v", err)
	}

	return tooling.Ok(fmt.Sprintf(
		"Successfully swapped %s %s for about %s %s. %s",
		args.String("amount"), in.Symbol,
		tokens.FormatAmount(amountOut, out.Decimals), out.Symbol,
		hashes[len(hashes)-1].Hex(),
	))
}

func (d Deps) getPoolDetails(ctx context.Context, args tooling.Args, session tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	poolID := args.String("pool_id")
	if poolID == "" {
		return tooling.Fail(xerrors.CodeInvalidArgument, "A pool_id is required.")
	}

	pool, err := d.API.PoolDetails(ctx, chain, poolID)
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Failed to fetch pool details: %v", err)
	}
	return tooling.Ok(fmt.Sprintf(
		"Pool %s (%s, type %s): $%s TVL, %s%% APR, %s%% swap fee, tokens: %v.",
		pool.Name, pool.ID, pool.Type, pool.TVLUSD, pool.APR, pool.SwapFeePct, pool.TokenList,
	))
}

func (d Deps) addLiquidity(ctx context.Context, args tooling.Args, session tooling.Session) tooling.Result {
	chain := args.String(tooling.ParamChain)
	poolID := args.String("pool_id")
	if poolID == "" {
		return tooling.Fail(xerrors.CodeInvalidArgument, "A pool_id is required.")
	}
	token, err := d.Catalog.Resolve(chain, args.String("token"))
	if err != nil {
		return tooling.Fail(xerrors.CodeOf(err), "Token %s is not available on chain %s.", args.String("token"), chain)
	}
	value, err := tokens.ParsePositiveAmount(args.String("amount"), token.Decimals)
	if err != nil {
		return tooling.Fail(xerrors.CodeInvalidArgument, "Invalid amount %q for token %s.", args.String("amount"), token.Symbol)
	}
	recipient, res := recipientAddress(session)
	if res != nil {
		return *res
	}

	client, err := d.Chains.ClientFor(chain)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnsupportedChain, "Chain %s is not supported.", chain)
	}
	def, err := d.Chains.Definition(chain)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnsupportedChain, "Chain %s is not supported.", chain)
	}
	routerAddr, ok := def.Contract(RoleSwapRouter)
	if !ok {
		return tooling.Fail(xerrors.CodeConfiguration, "No swap router is configured on chain %s.", chain)
	}
	router := common.HexToAddress(routerAddr)

	joinData, err := routerABI.Pack("joinPool", common.HexToHash(poolID), token.Address, value, recipient)
	if err != nil {
		return tooling.Fail(xerrors.CodeUnknown, "Failed to encode the join call: %v", err)
	}

	calls := []web3.Call{
		web3.ERC20Approve(token.Address, router, value),
		{To: router, Data: joinData},
	}

	session.Notify(fmt.Sprintf("Adding %s %s to pool %s...", args.String("amount"), token.Symbol, poolID))
	hashes, err := client.SendCalls(ctx, calls)
	if err != nil {
		return tooling.Fail(xerrors.CodeUpstreamFailure, "Adding liquidity failed: %v", err)
	}
	return tooling.Ok(fmt.Sprintf(
		"Successfully added %s %s to pool %s. %s",
		args.String("amount"), token.Symbol, poolID, hashes[len(hashes)-1].Hex(),
	))
}

// recipientAddress validates the session account once per mutating tool.
func recipientAddress(session tooling.Session) (common.Address, *tooling.Result) {
	if !common.IsHexAddress(session.Account) {
		res := tooling.Fail(xerrors.CodeInvalidArgument, "Account %q is not a valid address.", session.Account)
		return common.Address{}, &res
	}
	return common.HexToAddress(session.Account), nil
}

func parseRawAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("无法解析数量 %q", raw)
	}
	return value, nil
}

func applySlippage(amount *big.Int, bps int64) *big.Int {
	scaled := new(big.Int).Mul(amount, big.NewInt(10_000-bps))
	return scaled.Div(scaled, big.NewInt(10_000))
}
