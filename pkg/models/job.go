package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Job is the queue payload the solver engines consume. ApprovalTxOrTxHash
// carries either a raw signed transaction (hex, "0x"-prefixed) or a bare
// transaction hash — the engine resolves whichever was supplied.
type Job struct {
	Intent             Intent
	Protocol           Protocol
	ApprovalTxOrTxHash string
	ExistingSolution   *Plan
	Authorization      *Authorization
	Attempt            int
}

// DedupKey is the queue's uniqueness key: the same intent with the same
// authorization (or none) maps to one outstanding job; a fresh
// authorization for the same intent is a distinct attempt.
func (j *Job) DedupKey(intentHash [32]byte) string {
	authHash := ""
	if j.Authorization != nil && len(j.Authorization.Signature) > 0 {
		authHash = hexutil.Encode(j.Authorization.Signature)
	}
	return hexutil.Encode(intentHash[:]) + authHash
}

// CachedSolution is what the solver stashes under a matchmaker UUID while
// it waits for the matchmaker's authorization callback.
type CachedSolution struct {
	UUID               string
	Intent             Intent
	Protocol           Protocol
	ApprovalTxOrTxHash string
	Solution           *Plan
	ExpiresAt          time.Time
}

// StatusEntry is the NFT-flow status board record keyed by intent hash.
type StatusEntry struct {
	Status    string // "pending" | "success" | "failure"
	Details   string
	Timestamp time.Time
}

const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// SolveEvent is a terminal solve-attempt outcome, pushed to the
// websocket stream so an external dashboard can follow solves live.
type SolveEvent struct {
	IntentHash string
	Protocol   Protocol
	Attempt    int
	Outcome    string
	Reason     string
	Timestamp  time.Time
}
