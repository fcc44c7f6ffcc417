// Package authsubmit runs the matchmaker-side authorization submitter
// (spec §4.8): for a given solution set and target block, pick the
// top-scored candidate solution, sign an authorize() transaction with
// the matchmaker key, and relay it through the private relay as a
// one-transaction bundle for the target block. The solver's own
// transactions are not part of that bundle.
package authsubmit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"reflect"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/rawblock/memswap-solver/internal/codec"
	"github.com/rawblock/memswap-solver/internal/config"
	"github.com/rawblock/memswap-solver/internal/queue"
	"github.com/rawblock/memswap-solver/internal/relay"
	"github.com/rawblock/memswap-solver/pkg/models"
)

func selector4(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

const (
	erc20IntentShape  = "(bool,address,address,address,address,address,uint16,uint16,uint32,uint32,uint256,bool,bool,bool,uint128,uint128,uint16,uint16)"
	erc721IntentShape = "(bool,address,address,address,address,address,uint16,uint16,uint32,uint32,uint256,bool,bool,bool,uint128,uint128,uint16,uint16,bool,uint256)"
	checkShape        = "(uint128,uint128,uint32)"
)

var (
	authorizeSelectorERC20  = selector4("authorize(" + erc20IntentShape + "[]," + checkShape + "[],address)")
	authorizeSelectorERC721 = selector4("authorizeERC721(" + erc721IntentShape + "[]," + checkShape + "[],address)")
)

func authorizeSelectorFor(protocol models.Protocol) []byte {
	if protocol == models.ProtocolERC721 {
		return authorizeSelectorERC721
	}
	return authorizeSelectorERC20
}

const lockTTL = 4 * config.BlockTimeSeconds * time.Second

// Candidate is what gets serialized into the solution-set sorted set —
// enough to rebuild the authorize() call without re-fetching the intent.
type Candidate struct {
	Intent               models.Intent
	Protocol             models.Protocol
	Solver               common.Address
	FillAmountToCheck    *big.Int
	ExecuteAmountToCheck *big.Int
}

// Submitter dispatches one solution-set job at a time.
type Submitter struct {
	node         *ethclient.Client
	store        *queue.Store
	cfg          *config.Config
	privateRelay relay.Relay
}

func NewSubmitter(node *ethclient.Client, store *queue.Store, cfg *config.Config, privateRelay relay.Relay) *Submitter {
	return &Submitter{node: node, store: store, cfg: cfg, privateRelay: privateRelay}
}

// AddCandidate records a solver's proposed solution for a solution set,
// scored for the top-scored pick at dispatch time.
func (s *Submitter) AddCandidate(ctx context.Context, solutionSetKey string, c Candidate, score float64) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.store.AddToSortedSet(ctx, solutionSetKey, string(data), score)
}

// Dispatch runs one job keyed by <solutionSetKey>:<targetBlock>.
func (s *Submitter) Dispatch(ctx context.Context, solutionSetKey string, targetBlock uint64) error {
	head, err := s.node.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetching chain head: %w", err)
	}
	if head >= targetBlock {
		return fmt.Errorf("chain head %d already at or past target block %d", head, targetBlock)
	}

	acquired, err := s.store.AcquireLock(ctx, solutionSetKey, lockTTL)
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !acquired {
		log.Printf("[authsubmit] lock already held for %s, skipping", solutionSetKey)
		return queue.ErrSkip
	}
	defer s.store.ReleaseLock(ctx, solutionSetKey)

	raw, found, err := s.store.TopScored(ctx, solutionSetKey)
	if err != nil {
		return fmt.Errorf("reading top-scored solution: %w", err)
	}
	if !found {
		log.Printf("[authsubmit] no candidate solutions for %s", solutionSetKey)
		return queue.ErrSkip
	}
	var c Candidate
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return fmt.Errorf("decoding candidate: %w", err)
	}

	intentHash, err := codec.HashIntent(&c.Intent, c.Protocol, s.cfg.ChainID, s.settlementFor(c.Protocol))
	if err != nil {
		return fmt.Errorf("hashing intent: %w", err)
	}
	auth := &models.Authorization{
		IntentHash:           intentHash,
		Solver:               c.Solver,
		FillAmountToCheck:    c.FillAmountToCheck,
		ExecuteAmountToCheck: c.ExecuteAmountToCheck,
		BlockDeadline:        uint32(targetBlock),
	}
	digest, err := codec.HashAuthorization(auth, s.cfg.ChainID, s.settlementFor(c.Protocol))
	if err != nil {
		return fmt.Errorf("hashing authorization: %w", err)
	}
	sig, err := codec.Sign(digest, s.cfg.MatchmakerKey)
	if err != nil {
		return fmt.Errorf("signing authorization: %w", err)
	}
	auth.Signature = sig

	latest, err := s.node.BlockByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("fetching latest block: %w", err)
	}
	baseFee := latest.BaseFee()
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(13))
	feeCap.Div(feeCap, big.NewInt(10))
	priorityFee := big.NewInt(1_000_000_000)
	feeCap.Add(feeCap, priorityFee)

	tx, err := s.buildAuthorizeTx(ctx, &c.Intent, c.Protocol, auth, feeCap, priorityFee)
	if err != nil {
		return fmt.Errorf("building authorize tx: %w", err)
	}

	bundle := relay.Bundle{TargetBlock: targetBlock, Txs: []*types.Transaction{tx}}
	if err := s.privateRelay.Send(ctx, bundle, false); err != nil {
		return fmt.Errorf("relaying authorization: %w", err)
	}
	log.Printf("[authsubmit] submitted authorization for %s at block %d", solutionSetKey, targetBlock)
	return nil
}

func (s *Submitter) settlementFor(protocol models.Protocol) common.Address {
	if protocol == models.ProtocolERC721 {
		return s.cfg.Addresses.Settlement721
	}
	return s.cfg.Addresses.Settlement20
}

func (s *Submitter) buildAuthorizeTx(ctx context.Context, intent *models.Intent, protocol models.Protocol, auth *models.Authorization, gasFeeCap, priorityFee *big.Int) (*types.Transaction, error) {
	matchmakerAddr := common.Address{}
	if s.cfg.MatchmakerKey != nil {
		matchmakerAddr = s.cfg.MatchmakerAddress
	}
	nonce, err := s.node.PendingNonceAt(ctx, matchmakerAddr)
	if err != nil {
		return nil, err
	}

	calldata, err := encodeAuthorize(intent, protocol, auth)
	if err != nil {
		return nil, err
	}

	settlement := s.settlementFor(protocol)
	txData := &types.DynamicFeeTx{
		ChainID:   big.NewInt(s.cfg.ChainID),
		Nonce:     nonce,
		GasTipCap: priorityFee,
		GasFeeCap: gasFeeCap,
		Gas:       uint64(config.MatchmakerAuthorizationGas),
		To:        &settlement,
		Data:      calldata,
	}
	signer := types.LatestSignerForChainID(big.NewInt(s.cfg.ChainID))
	return types.SignTx(types.NewTx(txData), signer, s.cfg.MatchmakerKey)
}

// encodeAuthorize ABI-encodes authorize([intent], [{fillAmountToCheck,
// executeAmountToCheck, blockDeadline}], solver).
func encodeAuthorize(intent *models.Intent, protocol models.Protocol, auth *models.Authorization) ([]byte, error) {
	intentArrType := codec.IntentArrayType(protocol)
	checkType, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "fillAmountToCheck", Type: "uint128"},
		{Name: "executeAmountToCheck", Type: "uint128"},
		{Name: "blockDeadline", Type: "uint32"},
	})
	if err != nil {
		return nil, err
	}
	addrType, _ := abi.NewType("address", "", nil)

	type check struct {
		FillAmountToCheck    *big.Int
		ExecuteAmountToCheck *big.Int
		BlockDeadline        uint32
	}

	// The intent tuple's concrete Go type lives inside the codec package,
	// so its single-element slice has to be built by reflection rather
	// than a literal []T{...}.
	intentElem := codec.IntentTupleValue(intent, protocol)
	intentSlice := reflect.MakeSlice(reflect.SliceOf(reflect.TypeOf(intentElem)), 1, 1)
	intentSlice.Index(0).Set(reflect.ValueOf(intentElem))

	args := abi.Arguments{{Type: intentArrType}, {Type: checkType}, {Type: addrType}}
	packed, err := args.Pack(
		intentSlice.Interface(),
		[]check{{auth.FillAmountToCheck, auth.ExecuteAmountToCheck, auth.BlockDeadline}},
		auth.Solver,
	)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, authorizeSelectorFor(protocol)...), packed...), nil
}
