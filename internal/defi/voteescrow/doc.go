// Package voteescrow wraps the vote-escrow contract: locking the protocol
// token for voting power, growing existing locks and claiming bribe
// rewards earned by a lock.
package voteescrow
