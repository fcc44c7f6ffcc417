package solver

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputePriceWindowBuyAtMidpoint(t *testing.T) {
	amount := big.NewInt(1_000_000)
	endAmount := big.NewInt(1_100_000)

	// startAmountBps=500 (5%): startAmount = endAmount - endAmount*5% = 1,045,000.
	w := ComputePriceWindow(true, amount, endAmount, 500, 500, 1000, 2000, 1500, 0, 0)

	require.Equal(t, big.NewInt(1_045_000), w.StartAmount)
	// At the midpoint, linear interpolation from startAmount (1,045,000)
	// to endAmount (1,100,000) lands exactly halfway.
	require.Equal(t, big.NewInt(1_072_500), w.Bound)
}

func TestComputePriceWindowClampsBeforeStart(t *testing.T) {
	amount := big.NewInt(500_000)
	endAmount := big.NewInt(600_000)

	// startAmountBps=2000 (20%) on a sell intent: startAmount = endAmount +
	// endAmount*20% = 720,000.
	w := ComputePriceWindow(false, amount, endAmount, 2000, 2000, 1000, 2000, 500, 0, 0)
	require.Equal(t, big.NewInt(720_000), w.StartAmount)
	require.Equal(t, big.NewInt(720_000), w.Bound)
}

func TestViolatesBoundSell(t *testing.T) {
	require.True(t, ViolatesBound(false, big.NewInt(90), big.NewInt(100)))
	require.False(t, ViolatesBound(false, big.NewInt(110), big.NewInt(100)))
}

func TestViolatesBoundBuy(t *testing.T) {
	require.True(t, ViolatesBound(true, big.NewInt(110), big.NewInt(100)))
	require.False(t, ViolatesBound(true, big.NewInt(90), big.NewInt(100)))
}

func TestGrossProfitInBaseZeroWhenNoSurplus(t *testing.T) {
	p := GrossProfitInBase(false, big.NewInt(100), big.NewInt(90), big.NewInt(1e18), 18)
	require.Equal(t, big.NewInt(0), p)
}

func TestTipAuctionSplitsFortyFiftyTen(t *testing.T) {
	netProfit := big.NewInt(1_000_000_000_000) // 1e12 wei
	priority, widen := TipAuction(netProfit, 200_000)

	require.True(t, priority.Sign() >= 0)
	expectedWiden := big.NewInt(500_000_000_000) // 50%
	require.Equal(t, expectedWiden, widen)
}

func TestTipAuctionZeroWhenUnprofitable(t *testing.T) {
	priority, widen := TipAuction(big.NewInt(0), 200_000)
	require.Equal(t, big.NewInt(0), priority)
	require.Equal(t, big.NewInt(0), widen)
}
