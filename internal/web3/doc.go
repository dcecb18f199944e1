// Package web3 houses blockchain connectivity utilities: chain configuration
// loading, call descriptors, ERC-20 calldata helpers and the client interface
// that concrete chain implementations satisfy. Higher layers submit batches of
// prepared calls through this package without knowing which network they talk
// to.
package web3
