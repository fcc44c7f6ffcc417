package authsubmit

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/memswap-solver/pkg/models"
)

func TestAuthorizeSelectorsDifferByProtocol(t *testing.T) {
	require.NotEqual(t, authorizeSelectorERC20, authorizeSelectorERC721)
}

func TestEncodeAuthorizeERC20(t *testing.T) {
	intent := &models.Intent{
		BuyToken:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
		SellToken: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Nonce:     big.NewInt(1),
	}
	auth := &models.Authorization{
		Solver:               common.HexToAddress("0x3333333333333333333333333333333333333333"),
		FillAmountToCheck:    big.NewInt(100),
		ExecuteAmountToCheck: big.NewInt(200),
		BlockDeadline:        55,
	}
	data, err := encodeAuthorize(intent, models.ProtocolERC20, auth)
	require.NoError(t, err)
	require.Equal(t, authorizeSelectorERC20, data[:4])
}

func TestEncodeAuthorizeERC721(t *testing.T) {
	intent := &models.Intent{
		BuyToken:          common.HexToAddress("0x1111111111111111111111111111111111111111"),
		SellToken:         common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Nonce:             big.NewInt(1),
		TokenIdOrCriteria: big.NewInt(0),
	}
	auth := &models.Authorization{
		Solver:               common.HexToAddress("0x3333333333333333333333333333333333333333"),
		FillAmountToCheck:    big.NewInt(1),
		ExecuteAmountToCheck: big.NewInt(1),
		BlockDeadline:        99,
	}
	data, err := encodeAuthorize(intent, models.ProtocolERC721, auth)
	require.NoError(t, err)
	require.Equal(t, authorizeSelectorERC721, data[:4])
}
