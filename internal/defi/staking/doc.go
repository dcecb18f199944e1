// Package staking wraps the native staking contract: delegating stake to
// validators, withdrawing it and inspecting validator state.
package staking
