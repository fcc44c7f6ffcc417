// Package quote implements the uniform solve(intent, fillAmount) → plan
// operation over the two token protocols, each backed by a different
// pricing source (aggregator HTTP API, local routing table, or NFT
// marketplace routing API).
package quote

import (
	"context"
	"math/big"

	"github.com/rawblock/memswap-solver/pkg/models"
)

// Adapter is the uniform interface every pricing source implements.
type Adapter interface {
	Solve(ctx context.Context, intent *models.Intent, fillAmount *big.Int) (*models.Plan, error)
}

// bps is the fixed-point denominator used throughout pricing math.
const bps = 10_000

// slippageBumpBps is the extra cushion added to the sell-side amount of
// a buy intent quoted through the aggregator, per spec.
const slippageBumpBps = 100

func applyBps(amount *big.Int, b int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(b))
	return out.Div(out, big.NewInt(bps))
}
