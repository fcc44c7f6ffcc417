package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call is a single low-level call the settlement contract executes as part
// of a solution.
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// PreTx is a transaction the solver must send from its own wallet before
// the settlement call — used by the ERC-721 marketplace adapter when a
// purchase cannot be relayed through the settlement contract.
type PreTx struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Plan is the solution a quote adapter produces for one fill attempt.
type Plan struct {
	Calls  []Call
	PreTxs []PreTx

	// FillAmount is the portion of the intent's fixed side this plan fills.
	FillAmount *big.Int

	// ExecuteAmount is what the solver commits to give/take on the
	// variable side; ExpectedAmount is the "fair" point used for surplus
	// accounting.
	ExecuteAmount  *big.Int
	ExpectedAmount *big.Int

	// MinBuyAmount / MaxSellAmount are the adapter's own limit depending on
	// intent direction: sell intents bound the minimum buy amount, buy
	// intents bound the maximum sell amount.
	MinBuyAmount  *big.Int
	MaxSellAmount *big.Int

	// ToBaseRate converts one unit of the execute-token into the base
	// native token, scaled by 1e18 (fixed-point), for profit accounting.
	ToBaseRate *big.Int
	Decimals   uint8

	GasEstimate uint64
}

// ExecuteBound returns the adapter's own bound on the variable side for the
// intent's direction, independent of which field it lives in.
func (p *Plan) ExecuteBound(isBuy bool) *big.Int {
	if isBuy {
		return p.MaxSellAmount
	}
	return p.MinBuyAmount
}
