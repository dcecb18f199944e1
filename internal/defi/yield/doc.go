// Package yield wraps ERC-4626 vaults: depositing assets for
// yield-bearing shares, redeeming shares back and reading the current
// share price.
package yield
