package codec

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/memswap-solver/pkg/models"
)

func sampleIntent() *models.Intent {
	return &models.Intent{
		IsBuy:               false,
		BuyToken:            common.HexToAddress("0x1111111111111111111111111111111111111111"),
		SellToken:           common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Maker:               common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Solver:              common.HexToAddress("0x4444444444444444444444444444444444444444"),
		Source:              common.HexToAddress("0x5555555555555555555555555555555555555555"),
		FeeBps:              10,
		SurplusBps:          50,
		StartTime:           1000,
		EndTime:             2000,
		Nonce:               big.NewInt(1),
		IsPartiallyFillable: true,
		Amount:              big.NewInt(1_000_000),
		EndAmount:           big.NewInt(900_000),
		StartAmountBps:      10000,
		ExpectedAmountBps:   9500,
	}
}

func TestHashIntentIsDeterministic(t *testing.T) {
	i := sampleIntent()
	settlement := common.HexToAddress("0x9999999999999999999999999999999999999999")

	h1, err := HashIntent(i, models.ProtocolERC20, 1, settlement)
	require.NoError(t, err)
	h2, err := HashIntent(i, models.ProtocolERC20, 1, settlement)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	i2 := i.Clone()
	i2.Amount = big.NewInt(2_000_000)
	h3, err := HashIntent(&i2, models.ProtocolERC20, 1, settlement)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}

func TestSignAndRecoverRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	i := sampleIntent()
	i.Maker = crypto.PubkeyToAddress(key.PublicKey)
	settlement := common.HexToAddress("0x9999999999999999999999999999999999999999")

	digest, err := HashIntent(i, models.ProtocolERC20, 1, settlement)
	require.NoError(t, err)

	sig, err := Sign(digest, key)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	recovered, err := Recover(digest, sig)
	require.NoError(t, err)
	require.Equal(t, i.Maker, recovered)
}

func TestEncodeDecodeIntentTailRoundTrip(t *testing.T) {
	i := sampleIntent()
	i.Signature = []byte{0x01, 0x02, 0x03}

	encoded, err := EncodeIntentTail(i, models.ProtocolERC20)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := DecodeIntentTail(encoded, models.ProtocolERC20)
	require.NoError(t, err)
	require.Equal(t, i.Maker, decoded.Maker)
	require.Equal(t, i.Amount.String(), decoded.Amount.String())
	require.Equal(t, i.Signature, decoded.Signature)
}

func TestDecodeIntentTailRejectsGarbage(t *testing.T) {
	_, err := DecodeIntentTail([]byte{0xde, 0xad, 0xbe, 0xef}, models.ProtocolERC20)
	require.Error(t, err)
}

func TestERC721IntentHashDiffersByTokenId(t *testing.T) {
	i := sampleIntent()
	i.TokenIdOrCriteria = big.NewInt(42)
	settlement := common.HexToAddress("0x9999999999999999999999999999999999999999")

	h1, err := HashIntent(i, models.ProtocolERC721, 1, settlement)
	require.NoError(t, err)

	i2 := i.Clone()
	i2.TokenIdOrCriteria = big.NewInt(43)
	h2, err := HashIntent(&i2, models.ProtocolERC721, 1, settlement)
	require.NoError(t, err)

	require.NotEqual(t, h1, h2)
}
