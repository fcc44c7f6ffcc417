// Package relay implements the three ways a filled intent's transaction
// bundle reaches a block: a plain public broadcast, a Flashbots-style
// private relay, and a bloXroute-style private relay with builder
// fan-out. All three share the same failure vocabulary.
package relay

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/core/types"
)

// Outcome classifies how a relay attempt failed, so callers can decide
// whether to retry, strip user transactions, or give up.
var (
	ErrSimulation  = errors.New("relay: simulation failed")
	ErrNotIncluded = errors.New("relay: bundle not included by target block")
	ErrRateLimit   = errors.New("relay: rate limited")
)

// Bundle is an ordered sequence of transactions to land atomically in
// one block. UserTxHash lists the hashes of the transactions in Txs that
// the solver did not sign itself (the maker's approval, typically) —
// both private relays strip these on a nonce-mismatch retry.
type Bundle struct {
	Txs        []*types.Transaction
	UserTxHash []string // hashes of txs inside Txs that are user-supplied
	TargetBlock uint64
}

// Relay is the uniform operation every relay method implements.
type Relay interface {
	// Send simulates (where supported), submits, and waits for inclusion
	// of the bundle targeting TargetBlock. isIncentivized relaxes
	// simulation-failure handling for the public relay.
	Send(ctx context.Context, bundle Bundle, isIncentivized bool) error
}
