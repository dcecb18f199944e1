// Package beets integrates the Beets DEX aggregator. Quotes and pool
// metadata come from the Beets GraphQL API, swap and liquidity
// transactions go through the router contract registered in the chain
// configuration.
package beets
