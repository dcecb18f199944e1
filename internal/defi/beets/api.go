package beets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultEndpoint = "https://backend-v3.beets-ftm-node.com/graphql"

// APIConfig describes the GraphQL endpoint and client behaviour.
type APIConfig struct {
	Endpoint string
	Timeout  time.Duration
	// PoolCacheTTL bounds how long pool metadata may be served from cache.
	// Zero disables caching.
	PoolCacheTTL time.Duration
}

// API wraps the Beets GraphQL backend. Retries apply to 5xx responses
// only: 4xx means the query itself is wrong and will not heal.
type API struct {
	client *resty.Client
	pools  *ttlCache
}

// NewAPI constructs a GraphQL client with bounded exponential backoff.
func NewAPI(cfg APIConfig) *API {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(endpoint)
	client.SetTimeout(timeout)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetRetryMaxWaitTime(5 * time.Second)
	client.AddRetryCondition(func(resp *resty.Response, err error) bool {
		return err == nil && resp.StatusCode() >= 500
	})

	return &API{
		client: client,
		pools:  newTTLCache(cfg.PoolCacheTTL),
	}
}

// QuoteRequest asks for the best swap path between two tokens.
// Addresses are hex strings, AmountIn is in token-in smallest units.
type QuoteRequest struct {
	Chain    string
	TokenIn  string
	TokenOut string
	AmountIn string
}

// Quote is the aggregator's answer for a QuoteRequest.
type Quote struct {
	AmountOut    string  `json:"swapAmountRaw"`
	ReturnAmount string  `json:"returnAmountRaw"`
	PriceImpact  string  `json:"priceImpact"`
	RouteHops    int     `json:"hopCount"`
	EffectivePr  float64 `json:"effectivePrice"`
}

// Pool summarizes one liquidity pool.
type Pool struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Address    string   `json:"address"`
	Type       string   `json:"type"`
	TVLUSD     string   `json:"totalLiquidity"`
	APR        string   `json:"apr"`
	TokenList  []string `json:"tokens"`
	SwapFeePct string   `json:"swapFee"`
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

const swapQuoteQuery = `query SwapQuote($chain: String!, $tokenIn: String!, $tokenOut: String!, $amountIn: String!) {
  sorGetSwapPaths(chain: $chain, tokenIn: $tokenIn, tokenOut: $tokenOut, swapAmountRaw: $amountIn, swapType: EXACT_IN) {
    swapAmountRaw
    returnAmountRaw
    priceImpact
    hopCount
    effectivePrice
  }
}`

const poolDetailsQuery = `query PoolDetails($id: String!, $chain: String!) {
  poolGetPool(id: $id, chain: $chain) {
    id
    name
    address
    type
    totalLiquidity
    apr
    tokens
    swapFee
  }
}`

// SwapQuote fetches the current best route for an exact-in swap.
// Quotes are never cached: a stale quote is worse than a slow one.
func (a *API) SwapQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	var payload struct {
		Paths *Quote `json:"sorGetSwapPaths"`
	}
	err := a.query(ctx, swapQuoteQuery, map[string]any{
		"chain":    strings.ToUpper(req.Chain),
		"tokenIn":  strings.ToLower(req.TokenIn),
		"tokenOut": strings.ToLower(req.TokenOut),
		"amountIn": req.AmountIn,
	}, &payload)
	if err != nil {
		return nil, err
	}
	if payload.Paths == nil {
		return nil, fmt.Errorf("聚合器没有返回可用的兑换路径")
	}
	return payload.Paths, nil
}

// PoolDetails fetches pool metadata, served from the instance cache when
// fresh.
func (a *API) PoolDetails(ctx context.Context, chain, poolID string) (*Pool, error) {
	cacheKey := strings.ToLower(chain + "/" + poolID)
	if cached, ok := a.pools.get(cacheKey); ok {
		pool := cached.(Pool)
		return &pool, nil
	}

	var payload struct {
		Pool *Pool `json:"poolGetPool"`
	}
	err := a.query(ctx, poolDetailsQuery, map[string]any{
		"id":    strings.ToLower(poolID),
		"chain": strings.ToUpper(chain),
	}, &payload)
	if err != nil {
		return nil, err
	}
	if payload.Pool == nil {
		return nil, fmt.Errorf("未找到流动性池 %s", poolID)
	}

	a.pools.put(cacheKey, *payload.Pool)
	return payload.Pool, nil
}

func (a *API) query(ctx context.Context, query string, variables map[string]any, out any) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(graphQLRequest{Query: query, Variables: variables}).
		Post("")
	if err != nil {
		return fmt.Errorf("请求 Beets API 失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("Beets API 返回状态码 %d: %s", resp.StatusCode(), resp.String())
	}

	var envelope graphQLEnvelope
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("解析 Beets API 响应失败: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("Beets API 查询失败: %s", envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("解析 Beets API 数据失败: %w", err)
	}
	return nil
}
