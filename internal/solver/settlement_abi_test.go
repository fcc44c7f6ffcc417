package solver

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/memswap-solver/pkg/models"
)

func sampleIntentForSolve() *models.Intent {
	return &models.Intent{
		IsBuy:             false,
		BuyToken:          common.HexToAddress("0x1111111111111111111111111111111111111111"),
		SellToken:         common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Maker:             common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Nonce:             big.NewInt(7),
		StartTime:         1000,
		EndTime:           2000,
		Amount:            big.NewInt(1_000_000),
		EndAmount:         big.NewInt(1_100_000),
		StartAmountBps:    10000,
		ExpectedAmountBps: 9500,
	}
}

func samplePlanForSolve() *models.Plan {
	return &models.Plan{
		Calls: []models.Call{
			{To: common.HexToAddress("0x4444444444444444444444444444444444444444"), Data: []byte{0xde, 0xad}, Value: big.NewInt(0)},
		},
		FillAmount:    big.NewInt(1_000_000),
		ExecuteAmount: big.NewInt(1_050_000),
	}
}

func TestEncodeSolveDirectERC20(t *testing.T) {
	data, err := encodeSolve(VariantDirect, models.ProtocolERC20, sampleIntentForSolve(), samplePlanForSolve(), nil)
	require.NoError(t, err)
	require.Len(t, data[:4], 4)
	require.Equal(t, solveSelectorERC20, data[:4])
}

func TestEncodeSolveOnChainAuthERC20(t *testing.T) {
	data, err := encodeSolve(VariantOnChainAuthCheck, models.ProtocolERC20, sampleIntentForSolve(), samplePlanForSolve(), nil)
	require.NoError(t, err)
	require.Equal(t, solveOnChainAuthSelectorERC20, data[:4])
}

func TestEncodeSolveSignatureAuthRequiresAuthorization(t *testing.T) {
	_, err := encodeSolve(VariantSignatureAuthCheck, models.ProtocolERC20, sampleIntentForSolve(), samplePlanForSolve(), nil)
	require.Error(t, err)
}

func TestEncodeSolveSignatureAuthERC721(t *testing.T) {
	intent := sampleIntentForSolve()
	intent.IsBuy = true
	intent.TokenIdOrCriteria = big.NewInt(0)
	auth := &models.Authorization{
		Solver:               common.HexToAddress("0x5555555555555555555555555555555555555555"),
		FillAmountToCheck:    big.NewInt(1_000_000),
		ExecuteAmountToCheck: big.NewInt(1_050_000),
		BlockDeadline:        12345,
		Signature:            []byte{1, 2, 3},
	}
	data, err := encodeSolve(VariantSignatureAuthCheck, models.ProtocolERC721, intent, samplePlanForSolve(), auth)
	require.NoError(t, err)
	require.Equal(t, solveSignatureAuthSelectorERC721, data[:4])
}

func TestSelectorsDifferBetweenProtocols(t *testing.T) {
	require.NotEqual(t, solveSelectorERC20, solveSelectorERC721)
}
