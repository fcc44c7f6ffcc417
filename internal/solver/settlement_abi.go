package solver

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rawblock/memswap-solver/internal/codec"
	"github.com/rawblock/memswap-solver/pkg/models"
)

const (
	erc20IntentShape   = "(bool,address,address,address,address,address,uint16,uint16,uint32,uint32,uint256,bool,bool,bool,uint128,uint128,uint16,uint16)"
	erc721IntentShape  = "(bool,address,address,address,address,address,uint16,uint16,uint32,uint32,uint256,bool,bool,bool,uint128,uint128,uint16,uint16,bool,uint256)"
	solutionShape      = "(uint128,(address,bytes,uint256)[],uint128)"
	authorizationShape = "(bytes32,address,uint128,uint128,uint32)"
)

// Settlement entrypoint selectors, one pair per protocol: the plain and
// on-chain-authorization variants share parameters (spec §6), only the
// function name differs; the signature-authorization variant adds the
// Authorization tuple and its signature.
var (
	solveSelectorERC20               = selector4("solveERC20(" + erc20IntentShape + "," + solutionShape + ",bytes[])")
	solveOnChainAuthSelectorERC20    = selector4("solveWithOnChainAuthorizationCheckERC20(" + erc20IntentShape + "," + solutionShape + ",bytes[])")
	solveSignatureAuthSelectorERC20  = selector4("solveWithSignatureAuthorizationCheckERC20(" + erc20IntentShape + "," + solutionShape + "," + authorizationShape + ",bytes,bytes[])")

	solveSelectorERC721              = selector4("solveERC721(" + erc721IntentShape + "," + solutionShape + ",bytes[])")
	solveOnChainAuthSelectorERC721   = selector4("solveWithOnChainAuthorizationCheckERC721(" + erc721IntentShape + "," + solutionShape + ",bytes[])")
	solveSignatureAuthSelectorERC721 = selector4("solveWithSignatureAuthorizationCheckERC721(" + erc721IntentShape + "," + solutionShape + "," + authorizationShape + ",bytes,bytes[])")
)

// solutionCallTuple mirrors models.Call's ABI shape for embedding inside
// the Solution tuple.
type solutionCallTuple struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

func solutionComponents() []abi.ArgumentMarshaling {
	return []abi.ArgumentMarshaling{
		{Name: "executeAmountToCheck", Type: "uint128"},
		{Name: "calls", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "to", Type: "address"},
			{Name: "data", Type: "bytes"},
			{Name: "value", Type: "uint256"},
		}},
		{Name: "fillAmount", Type: "uint128"},
	}
}

// solutionTuple is the ABI shape of the on-chain Solution struct: the
// adapter plan reduced to what the settlement contract checks and
// executes ("the adapter plan (executeAmount, calls[], fillAmount),
// ABI-encoded").
type solutionTuple struct {
	ExecuteAmountToCheck *big.Int
	Calls                []solutionCallTuple
	FillAmount           *big.Int
}

func toSolutionTuple(plan *models.Plan) solutionTuple {
	calls := make([]solutionCallTuple, len(plan.Calls))
	for i, c := range plan.Calls {
		calls[i] = solutionCallTuple{To: c.To, Data: c.Data, Value: c.Value}
	}
	return solutionTuple{
		ExecuteAmountToCheck: plan.ExecuteAmount,
		Calls:                calls,
		FillAmount:           plan.FillAmount,
	}
}

var solutionABIType = mustABIType("tuple", solutionComponents())

var authorizationABIType = mustABIType("tuple", []abi.ArgumentMarshaling{
	{Name: "intentHash", Type: "bytes32"},
	{Name: "solver", Type: "address"},
	{Name: "fillAmountToCheck", Type: "uint128"},
	{Name: "executeAmountToCheck", Type: "uint128"},
	{Name: "blockDeadline", Type: "uint32"},
})

var bytesArrayABIType = mustABIType("bytes[]", nil)
var bytesABIType = mustABIType("bytes", nil)

func mustABIType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("solver: bad ABI type %q: %v", t, err))
	}
	return typ
}

type authorizationTuple struct {
	IntentHash           [32]byte
	Solver               common.Address
	FillAmountToCheck    *big.Int
	ExecuteAmountToCheck *big.Int
	BlockDeadline        uint32
}

func toAuthorizationTuple(a *models.Authorization) authorizationTuple {
	return authorizationTuple{
		IntentHash:           a.IntentHash,
		Solver:               a.Solver,
		FillAmountToCheck:    a.FillAmountToCheck,
		ExecuteAmountToCheck: a.ExecuteAmountToCheck,
		BlockDeadline:        a.BlockDeadline,
	}
}

func selectorsFor(protocol models.Protocol) (direct, onChainAuth, sigAuth []byte) {
	if protocol == models.ProtocolERC721 {
		return solveSelectorERC721, solveOnChainAuthSelectorERC721, solveSignatureAuthSelectorERC721
	}
	return solveSelectorERC20, solveOnChainAuthSelectorERC20, solveSignatureAuthSelectorERC20
}

// encodeSolve ABI-encodes the call to the settlement contract's variant
// entrypoint (spec §4.5 step 8 / §6), shared between ERC-20 and ERC-721
// settlement since both protocols expose the same three entrypoint shapes
// over their respectively-sized Intent tuple.
func encodeSolve(variant SolveVariant, protocol models.Protocol, intent *models.Intent, plan *models.Plan, auth *models.Authorization) ([]byte, error) {
	intentType := codec.IntentTupleType(protocol)
	intentArg := codec.IntentTupleValue(intent, protocol)
	solution := toSolutionTuple(plan)
	direct, onChainAuth, sigAuth := selectorsFor(protocol)

	switch variant {
	case VariantDirect, VariantOnChainAuthCheck:
		args := abi.Arguments{{Type: intentType}, {Type: solutionABIType}, {Type: bytesArrayABIType}}
		packed, err := args.Pack(intentArg, solution, [][]byte{})
		if err != nil {
			return nil, err
		}
		selector := direct
		if variant == VariantOnChainAuthCheck {
			selector = onChainAuth
		}
		return append(append([]byte{}, selector...), packed...), nil

	case VariantSignatureAuthCheck:
		if auth == nil {
			return nil, fmt.Errorf("signature authorization variant requires an authorization")
		}
		args := abi.Arguments{{Type: intentType}, {Type: solutionABIType}, {Type: authorizationABIType}, {Type: bytesABIType}, {Type: bytesArrayABIType}}
		packed, err := args.Pack(intentArg, solution, toAuthorizationTuple(auth), auth.Signature, [][]byte{})
		if err != nil {
			return nil, err
		}
		return append(append([]byte{}, sigAuth...), packed...), nil
	}
	return nil, fmt.Errorf("unknown solve variant %d", variant)
}
