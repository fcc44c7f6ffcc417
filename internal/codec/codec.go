// Package codec hashes, signs, and verifies intents and authorizations
// (EIP-712), and encodes/decodes the piggyback intent tail appended to
// approval calldata. The signing pattern is the same domain-separator +
// struct-hash + keccak construction used for off-chain order signing
// elsewhere in the ecosystem.
package codec

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/rawblock/memswap-solver/pkg/models"
)

const erc20Name = "Memswap"
const erc721Name = "Memswap NFT"
const eip712Version = "1.0"

var intentFields = []apitypes.Type{
	{Name: "isBuy", Type: "bool"},
	{Name: "buyToken", Type: "address"},
	{Name: "sellToken", Type: "address"},
	{Name: "maker", Type: "address"},
	{Name: "solver", Type: "address"},
	{Name: "source", Type: "address"},
	{Name: "feeBps", Type: "uint16"},
	{Name: "surplusBps", Type: "uint16"},
	{Name: "startTime", Type: "uint32"},
	{Name: "endTime", Type: "uint32"},
	{Name: "nonce", Type: "uint256"},
	{Name: "isPartiallyFillable", Type: "bool"},
	{Name: "isSmartOrder", Type: "bool"},
	{Name: "isIncentivized", Type: "bool"},
	{Name: "amount", Type: "uint128"},
	{Name: "endAmount", Type: "uint128"},
	{Name: "startAmountBps", Type: "uint16"},
	{Name: "expectedAmountBps", Type: "uint16"},
}

var erc721IntentFields = append(append([]apitypes.Type{}, intentFields...),
	apitypes.Type{Name: "isCriteriaOrder", Type: "bool"},
	apitypes.Type{Name: "tokenIdOrCriteria", Type: "uint256"},
)

var authorizationFields = []apitypes.Type{
	{Name: "intentHash", Type: "bytes32"},
	{Name: "solver", Type: "address"},
	{Name: "fillAmountToCheck", Type: "uint128"},
	{Name: "executeAmountToCheck", Type: "uint128"},
	{Name: "blockDeadline", Type: "uint32"},
}

func domainFor(name string, chainID int64, verifyingContract common.Address) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              name,
		Version:           eip712Version,
		ChainId:           math.NewHexOrDecimal256(chainID),
		VerifyingContract: verifyingContract.Hex(),
	}
}

func intentMessage(i *models.Intent) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"isBuy":               i.IsBuy,
		"buyToken":            i.BuyToken.Hex(),
		"sellToken":           i.SellToken.Hex(),
		"maker":               i.Maker.Hex(),
		"solver":              i.Solver.Hex(),
		"source":              i.Source.Hex(),
		"feeBps":              fmt.Sprintf("%d", i.FeeBps),
		"surplusBps":          fmt.Sprintf("%d", i.SurplusBps),
		"startTime":           fmt.Sprintf("%d", i.StartTime),
		"endTime":             fmt.Sprintf("%d", i.EndTime),
		"nonce":               i.Nonce.String(),
		"isPartiallyFillable": i.IsPartiallyFillable,
		"isSmartOrder":        i.IsSmartOrder,
		"isIncentivized":      i.IsIncentivized,
		"amount":              i.Amount.String(),
		"endAmount":           i.EndAmount.String(),
		"startAmountBps":      fmt.Sprintf("%d", i.StartAmountBps),
		"expectedAmountBps":   fmt.Sprintf("%d", i.ExpectedAmountBps),
	}
}

func erc721IntentMessage(i *models.Intent) apitypes.TypedDataMessage {
	m := intentMessage(i)
	m["isCriteriaOrder"] = i.IsCriteriaOrder
	tid := i.TokenIdOrCriteria
	if tid == nil {
		tid = big.NewInt(0)
	}
	m["tokenIdOrCriteria"] = tid.String()
	return m
}

// TypedDataFor builds the apitypes.TypedData for an intent, ready to hash
// or to hand to a wallet for an eth_signTypedData_v4 call.
func TypedDataFor(i *models.Intent, protocol models.Protocol, chainID int64, settlement common.Address) apitypes.TypedData {
	if protocol == models.ProtocolERC721 {
		return apitypes.TypedData{
			Types: apitypes.Types{
				"EIP712Domain": domainType(),
				"Intent":       erc721IntentFields,
			},
			PrimaryType: "Intent",
			Domain:      domainFor(erc721Name, chainID, settlement),
			Message:     erc721IntentMessage(i),
		}
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType(),
			"Intent":       intentFields,
		},
		PrimaryType: "Intent",
		Domain:      domainFor(erc20Name, chainID, settlement),
		Message:     intentMessage(i),
	}
}

func domainType() []apitypes.Type {
	return []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}
}

// HashIntent returns the EIP-712 digest a maker signs over.
func HashIntent(i *models.Intent, protocol models.Protocol, chainID int64, settlement common.Address) ([32]byte, error) {
	return hashTypedData(TypedDataFor(i, protocol, chainID, settlement))
}

func hashTypedData(td apitypes.TypedData) ([32]byte, error) {
	domainSep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return [32]byte{}, fmt.Errorf("hashing domain: %w", err)
	}
	msgHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return [32]byte{}, fmt.Errorf("hashing message: %w", err)
	}
	raw := append([]byte("\x19\x01"), append(domainSep, msgHash...)...)
	return crypto.Keccak256Hash(raw), nil
}

// HashAuthorization returns the digest the matchmaker signs over.
func HashAuthorization(a *models.Authorization, chainID int64, settlement common.Address) ([32]byte, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":  domainType(),
			"Authorization": authorizationFields,
		},
		PrimaryType: "Authorization",
		Domain:      domainFor(erc20Name, chainID, settlement),
		Message: apitypes.TypedDataMessage{
			"intentHash":           common.BytesToHash(a.IntentHash[:]).Hex(),
			"solver":               a.Solver.Hex(),
			"fillAmountToCheck":    a.FillAmountToCheck.String(),
			"executeAmountToCheck": a.ExecuteAmountToCheck.String(),
			"blockDeadline":        fmt.Sprintf("%d", a.BlockDeadline),
		},
	}
	return hashTypedData(td)
}

// Sign signs a 32-byte digest and normalizes v to 27/28.
func Sign(digest [32]byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, err
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SignIntent is a convenience wrapper: hash then sign.
func SignIntent(i *models.Intent, protocol models.Protocol, chainID int64, settlement common.Address, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := HashIntent(i, protocol, chainID, settlement)
	if err != nil {
		return nil, err
	}
	return Sign(digest, key)
}

// Recover recovers the signer address from a digest + signature.
func Recover(digest [32]byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	sigCopy := append([]byte(nil), sig...)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sigCopy)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// intentTailArgs describes the ABI tuple piggybacked onto an approve()
// call's calldata: the signed intent plus its signature.
var intentTailArgs = mustArgs(
	abi.Arguments{
		{Type: mustType("tuple", intentTupleComponents(false))},
		{Type: mustType("bytes", nil)},
	},
)

var erc721IntentTailArgs = mustArgs(
	abi.Arguments{
		{Type: mustType("tuple", intentTupleComponents(true))},
		{Type: mustType("bytes", nil)},
	},
)

func intentTupleComponents(isERC721 bool) []abi.ArgumentMarshaling {
	comps := []abi.ArgumentMarshaling{
		{Name: "isBuy", Type: "bool"},
		{Name: "buyToken", Type: "address"},
		{Name: "sellToken", Type: "address"},
		{Name: "maker", Type: "address"},
		{Name: "solver", Type: "address"},
		{Name: "source", Type: "address"},
		{Name: "feeBps", Type: "uint16"},
		{Name: "surplusBps", Type: "uint16"},
		{Name: "startTime", Type: "uint32"},
		{Name: "endTime", Type: "uint32"},
		{Name: "nonce", Type: "uint256"},
		{Name: "isPartiallyFillable", Type: "bool"},
		{Name: "isSmartOrder", Type: "bool"},
		{Name: "isIncentivized", Type: "bool"},
		{Name: "amount", Type: "uint128"},
		{Name: "endAmount", Type: "uint128"},
		{Name: "startAmountBps", Type: "uint16"},
		{Name: "expectedAmountBps", Type: "uint16"},
	}
	if isERC721 {
		comps = append(comps,
			abi.ArgumentMarshaling{Name: "isCriteriaOrder", Type: "bool"},
			abi.ArgumentMarshaling{Name: "tokenIdOrCriteria", Type: "uint256"},
		)
	}
	return comps
}

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("codec: bad ABI type %q: %v", t, err))
	}
	return typ
}

func mustArgs(a abi.Arguments) abi.Arguments { return a }

// IntentTupleType returns the ABI tuple type of an Intent for the given
// protocol, for callers building calldata that embeds an intent alongside
// other arguments (the settlement contract's solve() entrypoints).
func IntentTupleType(protocol models.Protocol) abi.Type {
	return mustType("tuple", intentTupleComponents(protocol == models.ProtocolERC721))
}

// IntentArrayType returns the ABI tuple[] type of an Intent for the given
// protocol — the shape authorize() takes its intents argument as.
func IntentArrayType(protocol models.Protocol) abi.Type {
	return mustType("tuple[]", intentTupleComponents(protocol == models.ProtocolERC721))
}

// IntentTupleValue returns the anonymous struct value matching
// IntentTupleType's shape for the given intent.
func IntentTupleValue(i *models.Intent, protocol models.Protocol) interface{} {
	return intentTuple(i, protocol)
}

// EncodeIntentTail ABI-encodes the (intent, signature) tuple appended to
// an approve() call's calldata — the "piggyback" entry shape from the
// spec's listener component.
func EncodeIntentTail(i *models.Intent, protocol models.Protocol) ([]byte, error) {
	args := intentTailArgs
	if protocol == models.ProtocolERC721 {
		args = erc721IntentTailArgs
	}
	tuple := intentTuple(i, protocol)
	return args.Pack(tuple, i.Signature)
}

func intentTuple(i *models.Intent, protocol models.Protocol) interface{} {
	if protocol == models.ProtocolERC721 {
		type erc721Tuple struct {
			IsBuy               bool
			BuyToken            common.Address
			SellToken           common.Address
			Maker               common.Address
			Solver              common.Address
			Source              common.Address
			FeeBps              uint16
			SurplusBps          uint16
			StartTime           uint32
			EndTime             uint32
			Nonce               *big.Int
			IsPartiallyFillable bool
			IsSmartOrder        bool
			IsIncentivized      bool
			Amount              *big.Int
			EndAmount           *big.Int
			StartAmountBps      uint16
			ExpectedAmountBps   uint16
			IsCriteriaOrder     bool
			TokenIdOrCriteria   *big.Int
		}
		tid := i.TokenIdOrCriteria
		if tid == nil {
			tid = big.NewInt(0)
		}
		return erc721Tuple{
			i.IsBuy, i.BuyToken, i.SellToken, i.Maker, i.Solver, i.Source,
			i.FeeBps, i.SurplusBps, i.StartTime, i.EndTime, i.Nonce,
			i.IsPartiallyFillable, i.IsSmartOrder, i.IsIncentivized,
			i.Amount, i.EndAmount, i.StartAmountBps, i.ExpectedAmountBps,
			i.IsCriteriaOrder, tid,
		}
	}
	type erc20Tuple struct {
		IsBuy               bool
		BuyToken            common.Address
		SellToken           common.Address
		Maker               common.Address
		Solver              common.Address
		Source              common.Address
		FeeBps              uint16
		SurplusBps          uint16
		StartTime           uint32
		EndTime             uint32
		Nonce               *big.Int
		IsPartiallyFillable bool
		IsSmartOrder        bool
		IsIncentivized      bool
		Amount              *big.Int
		EndAmount           *big.Int
		StartAmountBps      uint16
		ExpectedAmountBps   uint16
	}
	return erc20Tuple{
		i.IsBuy, i.BuyToken, i.SellToken, i.Maker, i.Solver, i.Source,
		i.FeeBps, i.SurplusBps, i.StartTime, i.EndTime, i.Nonce,
		i.IsPartiallyFillable, i.IsSmartOrder, i.IsIncentivized,
		i.Amount, i.EndAmount, i.StartAmountBps, i.ExpectedAmountBps,
	}
}

// DecodeIntentTail reverses EncodeIntentTail. Callers swallow decode
// errors and move on — calldata that isn't a piggyback payload is not
// an error condition, just a plain approval.
func DecodeIntentTail(data []byte, protocol models.Protocol) (*models.Intent, error) {
	args := intentTailArgs
	if protocol == models.ProtocolERC721 {
		args = erc721IntentTailArgs
	}
	vals, err := args.Unpack(data)
	if err != nil {
		return nil, err
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("unexpected intent tail arity: %d", len(vals))
	}
	sig, ok := vals[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("intent tail signature field has wrong type")
	}
	intent, err := decodeTuple(vals[0], protocol)
	if err != nil {
		return nil, err
	}
	intent.Signature = sig
	return intent, nil
}

func decodeTuple(v interface{}, protocol models.Protocol) (*models.Intent, error) {
	if protocol == models.ProtocolERC721 {
		t, ok := v.(struct {
			IsBuy               bool
			BuyToken            common.Address
			SellToken           common.Address
			Maker               common.Address
			Solver              common.Address
			Source              common.Address
			FeeBps              uint16
			SurplusBps          uint16
			StartTime           uint32
			EndTime             uint32
			Nonce               *big.Int
			IsPartiallyFillable bool
			IsSmartOrder        bool
			IsIncentivized      bool
			Amount              *big.Int
			EndAmount           *big.Int
			StartAmountBps      uint16
			ExpectedAmountBps   uint16
			IsCriteriaOrder     bool
			TokenIdOrCriteria   *big.Int
		})
		if !ok {
			return nil, fmt.Errorf("intent tail tuple has wrong shape")
		}
		return &models.Intent{
			IsBuy: t.IsBuy, BuyToken: t.BuyToken, SellToken: t.SellToken,
			Maker: t.Maker, Solver: t.Solver, Source: t.Source,
			FeeBps: t.FeeBps, SurplusBps: t.SurplusBps,
			StartTime: t.StartTime, EndTime: t.EndTime, Nonce: t.Nonce,
			IsPartiallyFillable: t.IsPartiallyFillable, IsSmartOrder: t.IsSmartOrder,
			IsIncentivized: t.IsIncentivized, Amount: t.Amount, EndAmount: t.EndAmount,
			StartAmountBps: t.StartAmountBps, ExpectedAmountBps: t.ExpectedAmountBps,
			IsCriteriaOrder: t.IsCriteriaOrder, TokenIdOrCriteria: t.TokenIdOrCriteria,
		}, nil
	}
	t, ok := v.(struct {
		IsBuy               bool
		BuyToken            common.Address
		SellToken           common.Address
		Maker               common.Address
		Solver              common.Address
		Source              common.Address
		FeeBps              uint16
		SurplusBps          uint16
		StartTime           uint32
		EndTime             uint32
		Nonce               *big.Int
		IsPartiallyFillable bool
		IsSmartOrder        bool
		IsIncentivized      bool
		Amount              *big.Int
		EndAmount           *big.Int
		StartAmountBps      uint16
		ExpectedAmountBps   uint16
	})
	if !ok {
		return nil, fmt.Errorf("intent tail tuple has wrong shape")
	}
	return &models.Intent{
		IsBuy: t.IsBuy, BuyToken: t.BuyToken, SellToken: t.SellToken,
		Maker: t.Maker, Solver: t.Solver, Source: t.Source,
		FeeBps: t.FeeBps, SurplusBps: t.SurplusBps,
		StartTime: t.StartTime, EndTime: t.EndTime, Nonce: t.Nonce,
		IsPartiallyFillable: t.IsPartiallyFillable, IsSmartOrder: t.IsSmartOrder,
		IsIncentivized: t.IsIncentivized, Amount: t.Amount, EndAmount: t.EndAmount,
		StartAmountBps: t.StartAmountBps, ExpectedAmountBps: t.ExpectedAmountBps,
	}, nil
}
