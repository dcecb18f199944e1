// Package wallet exposes read-only account and chain inspection tools:
// native and ERC-20 balances plus a lightweight chain status probe.
package wallet
