package inventory

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMinBaseUnitsThresholdParses(t *testing.T) {
	require.NotNil(t, minBaseUnits)
	require.Equal(t, 0, minBaseUnits.Cmp(big.NewInt(10_000_000_000_000_000)))
}

func TestPackWithdrawAmountHasSelectorPrefix(t *testing.T) {
	data := packWithdrawAmount(big.NewInt(5))
	require.Len(t, data, 4+32)
	require.Equal(t, selector("withdraw(uint256)"), data[:4])
}
