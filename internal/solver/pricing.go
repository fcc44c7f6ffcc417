// Package solver runs the core state machine: precondition checks,
// price-window computation, quoting, profit accounting, tip auction,
// bundle assembly, and dispatch. The ERC-20 and ERC-721 variants share
// this machine through the Capabilities interface (engine.go); this
// file holds the pricing/profit math both variants call into.
package solver

import (
	"math/big"
)

const bpsDenominator = 10_000

// PriceWindow is the current-block pricing bound derived from an
// intent's linear decay schedule.
type PriceWindow struct {
	StartAmount    *big.Int
	ExpectedAmount *big.Int
	Bound          *big.Int // maxAmountIn (buy) or minAmountOut (sell)
}

// linearInterpolate computes the value at `now` on the line from
// (startTime, startAmount) to (endTime, endAmount), clamped to the
// segment's endpoints.
func linearInterpolate(startTime, endTime, now uint32, startAmount, endAmount *big.Int) *big.Int {
	if now <= startTime {
		return new(big.Int).Set(startAmount)
	}
	if now >= endTime {
		return new(big.Int).Set(endAmount)
	}
	elapsed := big.NewInt(int64(now - startTime))
	span := big.NewInt(int64(endTime - startTime))

	delta := new(big.Int).Sub(endAmount, startAmount)
	delta.Mul(delta, elapsed)
	delta.Div(delta, span)

	return new(big.Int).Add(startAmount, delta)
}

func bpsOf(amount *big.Int, b uint16) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(b)))
	return out.Div(out, big.NewInt(bpsDenominator))
}

// amountFromEndBps derives startAmount/expectedAmount from endAmount and a
// bps offset (spec §3's price decay invariant): buy intents subtract the
// bps-fraction of endAmount, sell intents add it.
func amountFromEndBps(isBuy bool, endAmount *big.Int, bps uint16) *big.Int {
	offset := bpsOf(endAmount, bps)
	if isBuy {
		return new(big.Int).Sub(endAmount, offset)
	}
	return new(big.Int).Add(endAmount, offset)
}

// ComputePriceWindow derives the current-block bound for the intent's
// variable side (spec §4.5 step 2).
func ComputePriceWindow(isBuy bool, amount, endAmount *big.Int, startAmountBps, expectedAmountBps uint16, startTime, endTime, latestTimestamp uint32, feeBps uint16, surplusBps uint16) PriceWindow {
	startAmount := amountFromEndBps(isBuy, endAmount, startAmountBps)
	expectedAmount := amountFromEndBps(isBuy, endAmount, expectedAmountBps)

	bound := linearInterpolate(startTime, endTime, latestTimestamp, startAmount, endAmount)

	if isBuy {
		fee := bpsOf(bound, feeBps)
		bound = new(big.Int).Sub(bound, fee)

		if bound.Cmp(expectedAmount) < 0 {
			diff := new(big.Int).Sub(expectedAmount, bound)
			surplusAdj := bpsOf(diff, surplusBps)
			bound = new(big.Int).Sub(bound, surplusAdj)
		}
	}

	return PriceWindow{StartAmount: startAmount, ExpectedAmount: expectedAmount, Bound: bound}
}

// ViolatesBound reports whether an adapter's quote fails the intent's
// window: for sell intents the adapter's minBuyAmount must be ≥ the
// bound; for buy intents the adapter's maxSellAmount must be ≤ the bound.
func ViolatesBound(isBuy bool, adapterAmount, bound *big.Int) bool {
	if isBuy {
		return adapterAmount.Cmp(bound) > 0
	}
	return adapterAmount.Cmp(bound) < 0
}

// GrossProfitInBase converts the surplus between the window bound and
// the adapter's actual amount into base-token units.
func GrossProfitInBase(isBuy bool, bound, adapterAmount, toBaseRate *big.Int, decimals uint8) *big.Int {
	var diff *big.Int
	if isBuy {
		diff = new(big.Int).Sub(bound, adapterAmount)
	} else {
		diff = new(big.Int).Sub(adapterAmount, bound)
	}
	if diff.Sign() <= 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(diff, toBaseRate)
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return scaled.Div(scaled, divisor)
}

// SolverGasFee is (baseFee+priorityFee) * gas, where gas is the
// adapter's own estimate if present, else a protocol default.
func SolverGasFee(baseFee, priorityFee *big.Int, memswapGas uint64, adapterGasEstimate uint64, defaultGas uint64) *big.Int {
	gas := adapterGasEstimate
	if gas == 0 {
		gas = defaultGas
	}
	totalGas := memswapGas + gas
	feePerGas := new(big.Int).Add(baseFee, priorityFee)
	return new(big.Int).Mul(feePerGas, big.NewInt(int64(totalGas)))
}

const matchmakerGasSafetyBps = 300 // +3%

// MatchmakerGasFee computes the fee owed to the matchmaker for the
// authorization check, with a 3% safety margin, in native-base units.
func MatchmakerGasFee(authorizationGas uint64, baseFee, priorityFee *big.Int) *big.Int {
	feePerGas := new(big.Int).Add(baseFee, priorityFee)
	fee := new(big.Int).Mul(feePerGas, big.NewInt(int64(authorizationGas)))
	safety := bpsOf(fee, matchmakerGasSafetyBps)
	return new(big.Int).Add(fee, safety)
}

// ToTokenEquivalent converts a native-base-denominated amount into
// token units using the adapter's toBaseRate (base-per-token, 1e18
// fixed point) and decimals.
func ToTokenEquivalent(baseAmount, toBaseRate *big.Int, decimals uint8) *big.Int {
	if toBaseRate == nil || toBaseRate.Sign() == 0 {
		return big.NewInt(0)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	out := new(big.Int).Mul(baseAmount, scale)
	return out.Div(out, toBaseRate)
}

// IncentivizationTip implements the contract-enforced tip schedule for
// incentivized intents: tied to both the absolute and relative surplus
// of executeAmount over expectedAmount.
func IncentivizationTip(isBuy bool, expectedAmount, executeAmount *big.Int, expectedAmountBps uint16) *big.Int {
	var surplus *big.Int
	if isBuy {
		surplus = new(big.Int).Sub(expectedAmount, executeAmount)
	} else {
		surplus = new(big.Int).Sub(executeAmount, expectedAmount)
	}
	if surplus.Sign() <= 0 {
		return big.NewInt(0)
	}
	// Half of the absolute surplus, scaled by how aggressive the
	// expected-amount target was set (tighter targets -> smaller tip).
	half := new(big.Int).Div(surplus, big.NewInt(2))
	return bpsOf(half, expectedAmountBps)
}

const minTipIncrementWei = 10_000_000 // 0.01 gwei in wei

// TipAuction splits net profit 40/50/10 between block-builder priority
// fee, the maker, and the solver (spec §4.5 step 5). Returns the
// priority-fee increment in wei and the amount to widen execute by.
func TipAuction(netProfit *big.Int, gasEstimate uint64) (priorityFeeIncrement *big.Int, executeWidenBase *big.Int) {
	if netProfit.Sign() <= 0 || gasEstimate == 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	builderShare := new(big.Int).Mul(netProfit, big.NewInt(40))
	builderShare.Div(builderShare, big.NewInt(100))

	units := new(big.Int).Div(builderShare, big.NewInt(minTipIncrementWei*int64(gasEstimate)))
	priorityFeeIncrement = new(big.Int).Mul(units, big.NewInt(minTipIncrementWei))

	userShare := new(big.Int).Mul(netProfit, big.NewInt(50))
	userShare.Div(userShare, big.NewInt(100))

	return priorityFeeIncrement, userShare
}
