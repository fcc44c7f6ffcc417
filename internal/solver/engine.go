package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"

	"github.com/rawblock/memswap-solver/internal/codec"
	"github.com/rawblock/memswap-solver/internal/config"
	"github.com/rawblock/memswap-solver/internal/db"
	"github.com/rawblock/memswap-solver/internal/quote"
	"github.com/rawblock/memswap-solver/internal/queue"
	"github.com/rawblock/memswap-solver/internal/relay"
	"github.com/rawblock/memswap-solver/pkg/models"
)

// SolveVariant names which settlement entrypoint a dispatch path encodes.
type SolveVariant int

const (
	VariantDirect SolveVariant = iota
	VariantOnChainAuthCheck
	VariantSignatureAuthCheck
)

// Capabilities is the protocol-specific half of the solver state
// machine — what makes the ERC-20 and ERC-721 engines share one
// pipeline instead of duplicating it (spec's design note: factor as a
// capability set).
type Capabilities interface {
	Protocol() models.Protocol
	SettlementAddress() common.Address

	// ExtraPrecondition runs protocol-specific checks beyond the shared
	// ones in step 1 (e.g. ERC-721's buy-only, collection-wide-only
	// restriction). A non-nil error is a hard stop, not a retryable
	// failure.
	ExtraPrecondition(intent *models.Intent) error

	Adapter() quote.Adapter

	// EncodeSolve ABI-encodes the call to the settlement contract's
	// variant entrypoint.
	EncodeSolve(variant SolveVariant, intent *models.Intent, plan *models.Plan, auth *models.Authorization) ([]byte, error)

	// ForceBundle reports whether this plan must relay as a bundle
	// regardless of approval-inclusion state (ERC-721 with pre-txs).
	ForceBundle(plan *models.Plan) bool
}

// EventPublisher receives terminal solve outcomes for a live feed (the
// HTTP layer's websocket hub). A nil publisher just means nothing is
// listening.
type EventPublisher interface {
	Publish(event models.SolveEvent)
}

// Engine runs the shared ten-step solve pipeline against a set of
// protocol Capabilities.
type Engine struct {
	caps  Capabilities
	node  *ethclient.Client
	store *queue.Store
	cfg   *config.Config

	publicRelay  relay.Relay
	privateRelay relay.Relay

	matchmakerBaseURL string
	inventoryQueue    string
	httpClient        *http.Client

	// audit is optional: a nil audit store just means attempts aren't
	// persisted beyond the usual log lines.
	audit *db.Store

	// events is optional: a nil publisher just means no live feed.
	events EventPublisher
}

// NewEngine wires one protocol's solver engine. audit and events may be nil.
func NewEngine(caps Capabilities, node *ethclient.Client, store *queue.Store, cfg *config.Config, publicRelay, privateRelay relay.Relay, inventoryQueue string, audit *db.Store, events EventPublisher) *Engine {
	return &Engine{
		caps:              caps,
		node:              node,
		store:             store,
		cfg:               cfg,
		publicRelay:       publicRelay,
		privateRelay:      privateRelay,
		matchmakerBaseURL: cfg.MatchmakerBaseURL,
		inventoryQueue:    inventoryQueue,
		httpClient:        &http.Client{Timeout: 10 * time.Second},
		audit:             audit,
		events:            events,
	}
}

// recordAttempt persists one solve outcome to the audit trail (spec's
// supplemented "structured audit trail" feature). Failures to write are
// logged, not propagated — the audit trail never blocks a solve job.
func (e *Engine) recordAttempt(ctx context.Context, intent *models.Intent, attempt int, outcome, reason string) {
	if e.audit == nil && e.events == nil {
		return
	}
	hash, err := codec.HashIntent(intent, e.caps.Protocol(), e.cfg.ChainID, e.caps.SettlementAddress())
	if err != nil {
		return
	}
	intentHash := common.Hash(hash).Hex()

	if e.audit != nil {
		if err := e.audit.RecordAttempt(ctx, intentHash, e.caps.Protocol().String(), attempt, outcome, reason); err != nil {
			log.Printf("[solver:%s] audit write failed: %v", e.caps.Protocol(), err)
		}
	}

	if e.events != nil {
		e.events.Publish(models.SolveEvent{
			IntentHash: intentHash,
			Protocol:   e.caps.Protocol(),
			Attempt:    attempt,
			Outcome:    outcome,
			Reason:     reason,
			Timestamp:  time.Now().UTC(),
		})
	}
}

// Handle runs one job through the full pipeline. It is the queue.Handler
// this engine's worker pool registers.
func (e *Engine) Handle(ctx context.Context, payload []byte, attempt int) error {
	var job models.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		log.Printf("[solver:%s] bad job payload: %v", e.caps.Protocol(), err)
		return queue.ErrSkip
	}
	job.Attempt = attempt

	intent := &job.Intent

	// --- 1. Precondition checks ---
	if stop, reason := e.preconditionStop(ctx, intent); stop {
		log.Printf("[solver:%s] precondition stop: %s", e.caps.Protocol(), reason)
		e.recordAttempt(ctx, intent, attempt, "PreconditionFail", reason)
		return queue.ErrSkip
	}
	if err := e.caps.ExtraPrecondition(intent); err != nil {
		log.Printf("[solver:%s] precondition stop: %v", e.caps.Protocol(), err)
		e.recordAttempt(ctx, intent, attempt, "PreconditionFail", err.Error())
		return queue.ErrSkip
	}

	latestBlock, err := e.node.BlockByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("fetching latest block: %w", err)
	}
	latestTimestamp := uint32(latestBlock.Time()) + config.PessimisticBlockTimeSeconds

	// --- 2. Price window ---
	window := ComputePriceWindow(intent.IsBuy, intent.Amount, intent.EndAmount,
		intent.StartAmountBps, intent.ExpectedAmountBps, intent.StartTime, intent.EndTime,
		latestTimestamp, intent.FeeBps, intent.SurplusBps)

	// --- 3. Quote ---
	fillAmount := intent.Amount
	if job.ExistingSolution != nil && job.ExistingSolution.FillAmount != nil {
		fillAmount = job.ExistingSolution.FillAmount
	}
	plan, err := e.caps.Adapter().Solve(ctx, intent, fillAmount)
	if err != nil {
		return fmt.Errorf("adapter quote: %w", err)
	}

	adapterAmount := plan.ExecuteBound(intent.IsBuy)
	if ViolatesBound(intent.IsBuy, adapterAmount, window.Bound) {
		log.Printf("[solver:%s] solution not good enough", e.caps.Protocol())
		e.recordAttempt(ctx, intent, attempt, "Unprofitable", "adapter quote violates price window bound")
		return queue.ErrSkip
	}

	// --- 4. Profit accounting ---
	grossProfit := GrossProfitInBase(intent.IsBuy, window.Bound, adapterAmount, plan.ToBaseRate, plan.Decimals)

	baseFee := latestBlock.BaseFee()
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	priorityFee := big.NewInt(1_000_000_000) // 1 gwei starting point, widened by the tip auction below
	solverGasFee := SolverGasFee(baseFee, priorityFee, config.MemswapGas, plan.GasEstimate, config.DefaultSwapGas)

	netProfit := new(big.Int).Sub(grossProfit, solverGasFee)

	isMatchmakerRouted := intent.Solver == e.cfg.MatchmakerAddress
	var matchmakerGasFee *big.Int
	if isMatchmakerRouted {
		matchmakerGasFee = MatchmakerGasFee(config.MatchmakerAuthorizationGas, baseFee, priorityFee)
		tokenEquivalent := ToTokenEquivalent(matchmakerGasFee, plan.ToBaseRate, plan.Decimals)
		feeToken := intent.BuyToken
		if intent.IsBuy {
			feeToken = intent.SellToken
		}
		plan.Calls = append(plan.Calls, transferToMatchmakerCall(feeToken, e.cfg.MatchmakerAddress, tokenEquivalent))
		if intent.IsBuy {
			plan.ExecuteAmount = new(big.Int).Sub(plan.ExecuteAmount, tokenEquivalent)
		} else {
			plan.ExecuteAmount = new(big.Int).Add(plan.ExecuteAmount, tokenEquivalent)
		}
		netProfit.Sub(netProfit, matchmakerGasFee)
	}

	var incentivizationTip *big.Int
	if intent.IsIncentivized {
		incentivizationTip = IncentivizationTip(intent.IsBuy, window.ExpectedAmount, plan.ExecuteAmount, intent.ExpectedAmountBps)
		netProfit.Sub(netProfit, incentivizationTip)
	}

	if e.cfg.ChainID == 1 && netProfit.Sign() <= 0 {
		log.Printf("[solver:%s] not profitable on mainnet, stopping", e.caps.Protocol())
		e.recordAttempt(ctx, intent, attempt, "Unprofitable", "net profit <= 0 on mainnet")
		return queue.ErrSkip
	}

	// --- 5. Tip auction ---
	if !intent.IsIncentivized && netProfit.Sign() > 0 {
		increment, widen := TipAuction(netProfit, plan.GasEstimate)
		priorityFee.Add(priorityFee, increment)
		if intent.IsBuy {
			plan.ExecuteAmount.Sub(plan.ExecuteAmount, widen)
		} else {
			plan.ExecuteAmount.Add(plan.ExecuteAmount, widen)
		}
	}

	// --- 6. Approval-tx assembly ---
	approvalTx, approvalMined, err := e.resolveApprovalTx(ctx, job.ApprovalTxOrTxHash)
	if err != nil {
		return fmt.Errorf("resolving approval tx: %w", err)
	}

	// --- 7. Fee estimation ---
	estimatedBaseFee := new(big.Int).Mul(baseFee, big.NewInt(130))
	estimatedBaseFee.Div(estimatedBaseFee, big.NewInt(100))

	// --- 8. Filler-tx construction ---
	variant := VariantDirect
	if isMatchmakerRouted {
		if job.Authorization != nil {
			variant = VariantSignatureAuthCheck
		} else {
			variant = VariantOnChainAuthCheck
		}
	}
	fillerCalldata, err := e.caps.EncodeSolve(variant, intent, plan, job.Authorization)
	if err != nil {
		return fmt.Errorf("encoding solve call: %w", err)
	}
	preTxs, err := e.buildPreTxs(ctx, plan.PreTxs, estimatedBaseFee, priorityFee)
	if err != nil {
		return fmt.Errorf("building pre-transactions: %w", err)
	}
	fillerValue := big.NewInt(0)
	if incentivizationTip != nil {
		fillerValue = incentivizationTip
	}
	fillerTx, err := e.buildFillerTx(ctx, fillerCalldata, estimatedBaseFee, priorityFee, uint64(len(preTxs)), fillerValue)
	if err != nil {
		return fmt.Errorf("building filler tx: %w", err)
	}

	targetBlock := latestBlock.NumberU64() + 1

	// --- 9. Dispatch ---
	if !isMatchmakerRouted {
		return e.dispatchDirect(ctx, &job, plan, preTxs, fillerTx, approvalTx, approvalMined, targetBlock)
	}
	if job.Authorization == nil {
		return e.dispatchToMatchmaker(ctx, &job, plan, preTxs, fillerTx)
	}
	if uint32(targetBlock) > job.Authorization.BlockDeadline {
		job.Authorization = nil
		return fmt.Errorf("authorization expired before target block, retrying without it")
	}
	return e.dispatchDirect(ctx, &job, plan, preTxs, fillerTx, approvalTx, approvalMined, targetBlock)
}

// buildPreTxs signs the NFT adapter's ordered pre-transactions (purchase,
// conditional setApprovalForAll) with sequential nonces so they land in
// the same bundle ahead of the settlement call (spec §4.6).
func (e *Engine) buildPreTxs(ctx context.Context, preTxs []models.PreTx, baseFee, priorityFee *big.Int) ([]*types.Transaction, error) {
	if len(preTxs) == 0 {
		return nil, nil
	}
	startNonce, err := e.node.PendingNonceAt(ctx, e.cfg.SolverAddress)
	if err != nil {
		return nil, err
	}
	gasFeeCap := new(big.Int).Add(baseFee, priorityFee)
	signer := types.LatestSignerForChainID(big.NewInt(e.cfg.ChainID))
	out := make([]*types.Transaction, len(preTxs))
	for i, pt := range preTxs {
		to := pt.To
		txData := &types.DynamicFeeTx{
			ChainID:   big.NewInt(e.cfg.ChainID),
			Nonce:     startNonce + uint64(i),
			GasTipCap: priorityFee,
			GasFeeCap: gasFeeCap,
			Gas:       config.DefaultSwapGas,
			To:        &to,
			Value:     pt.Value,
			Data:      pt.Data,
		}
		tx, err := types.SignTx(types.NewTx(txData), signer, e.cfg.SolverKey)
		if err != nil {
			return nil, err
		}
		out[i] = tx
	}
	return out, nil
}

// buildFillerTx assembles and signs the solver's own transaction calling
// the settlement contract's variant entrypoint.
func (e *Engine) buildFillerTx(ctx context.Context, calldata []byte, baseFee, priorityFee *big.Int, nonceOffset uint64, value *big.Int) (*types.Transaction, error) {
	nonce, err := e.node.PendingNonceAt(ctx, e.cfg.SolverAddress)
	if err != nil {
		return nil, err
	}
	nonce += nonceOffset
	gasFeeCap := new(big.Int).Add(baseFee, priorityFee)
	settlement := e.caps.SettlementAddress()
	txData := &types.DynamicFeeTx{
		ChainID:   big.NewInt(e.cfg.ChainID),
		Nonce:     nonce,
		GasTipCap: priorityFee,
		GasFeeCap: gasFeeCap,
		Gas:       uint64(config.MemswapGas + config.DefaultSwapGas),
		To:        &settlement,
		Value:     value,
		Data:      calldata,
	}
	tx := types.NewTx(txData)
	signer := types.LatestSignerForChainID(big.NewInt(e.cfg.ChainID))
	return types.SignTx(tx, signer, e.cfg.SolverKey)
}

// transferToMatchmakerCall builds the token-transfer call appended to
// the solution's call sequence to pay the matchmaker's on-chain
// authorization-check gas fee.
func transferToMatchmakerCall(token, matchmaker common.Address, amount *big.Int) models.Call {
	return models.Call{
		To:    token,
		Value: big.NewInt(0),
		Data:  packERC20Transfer(matchmaker, amount),
	}
}

// preconditionStop implements the shared checks from spec §4.5 step 1.
func (e *Engine) preconditionStop(ctx context.Context, intent *models.Intent) (bool, string) {
	if intent.SellToken == (common.Address{}) {
		return true, "sell token is zero address"
	}
	now := uint32(time.Now().Unix())
	if now < intent.StartTime {
		return true, "start time not reached"
	}
	if now >= intent.EndTime {
		return true, "intent expired"
	}
	if intent.SellToken == intent.BuyToken {
		return true, "trivial wrap/unwrap pair"
	}
	if intent.Solver != (common.Address{}) && intent.Solver != e.cfg.SolverAddress && intent.Solver != e.cfg.MatchmakerAddress {
		return true, "solver field names a third party"
	}
	return false, ""
}

func (e *Engine) resolveApprovalTx(ctx context.Context, txOrHash string) (*types.Transaction, bool, error) {
	if txOrHash == "" {
		return nil, false, nil
	}
	if len(txOrHash) > 2 && txOrHash[:2] == "0x" && len(txOrHash) > 66 {
		var tx types.Transaction
		if err := tx.UnmarshalBinary(common.FromHex(txOrHash)); err != nil {
			return nil, false, err
		}
		_, isPending, err := e.node.TransactionByHash(ctx, tx.Hash())
		if err != nil {
			return &tx, false, nil
		}
		return &tx, !isPending, nil
	}
	hash := common.HexToHash(txOrHash)
	tx, isPending, err := e.node.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	return tx, !isPending, nil
}

func (e *Engine) dispatchDirect(ctx context.Context, job *models.Job, plan *models.Plan, preTxs []*types.Transaction, fillerTx, approvalTx *types.Transaction, approvalMined bool, targetBlock uint64) error {
	useBundle := !approvalMined || e.cfg.RelayDirectlyWhenPossible || e.caps.ForceBundle(plan)
	if useBundle {
		bundle := relay.Bundle{TargetBlock: targetBlock}
		if approvalTx != nil && !approvalMined {
			bundle.Txs = append(bundle.Txs, approvalTx)
			bundle.UserTxHash = append(bundle.UserTxHash, approvalTx.Hash().Hex())
		}
		bundle.Txs = append(bundle.Txs, preTxs...)
		bundle.Txs = append(bundle.Txs, fillerTx)
		if err := e.privateRelay.Send(ctx, bundle, job.Intent.IsIncentivized); err != nil {
			return err
		}
	} else {
		bundle := relay.Bundle{TargetBlock: targetBlock}
		bundle.Txs = append(bundle.Txs, preTxs...)
		bundle.Txs = append(bundle.Txs, fillerTx)
		if err := e.publicRelay.Send(ctx, bundle, job.Intent.IsIncentivized); err != nil {
			return err
		}
	}

	e.recordAttempt(ctx, &job.Intent, job.Attempt, "Filled", fillerTx.Hash().Hex())
	return e.enqueuePostFill(ctx, job, plan)
}

const matchmakerSolutionTTL = 4 * config.BlockTimeSeconds * time.Second

// dispatchToMatchmaker POSTs the solution to the matchmaker and caches it
// under its own UUID for the authorization callback to retrieve (spec
// §4.5 step 9). A retry is scheduled 4 block times out in case the
// matchmaker never calls back.
func (e *Engine) dispatchToMatchmaker(ctx context.Context, job *models.Job, plan *models.Plan, preTxs []*types.Transaction, fillerTx *types.Transaction) error {
	id := uuid.New().String()
	cached := models.CachedSolution{
		UUID:               id,
		Intent:             job.Intent,
		Protocol:           e.caps.Protocol(),
		ApprovalTxOrTxHash: job.ApprovalTxOrTxHash,
		Solution:           plan,
		ExpiresAt:          time.Now().Add(matchmakerSolutionTTL),
	}
	if err := e.store.CacheSolution(ctx, id, cached, matchmakerSolutionTTL); err != nil {
		return fmt.Errorf("caching matchmaker solution: %w", err)
	}

	txs := make([]string, 0, len(preTxs)+1)
	for _, tx := range preTxs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encoding pre-tx for matchmaker: %w", err)
		}
		txs = append(txs, common.Bytes2Hex(raw))
	}
	rawFiller, err := fillerTx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding filler tx for matchmaker: %w", err)
	}
	txs = append(txs, common.Bytes2Hex(rawFiller))

	if err := e.postToMatchmaker(ctx, id, &job.Intent, txs); err != nil {
		log.Printf("[solver:%s] matchmaker post failed, relying on retry: %v", e.caps.Protocol(), err)
	}

	e.scheduleMatchmakerRetry(*job)
	return nil
}

func (e *Engine) postToMatchmaker(ctx context.Context, id string, intent *models.Intent, txs []string) error {
	body, err := json.Marshal(struct {
		UUID   string         `json:"uuid"`
		Intent *models.Intent `json:"intent"`
		Txs    []string       `json:"txs"`
	}{UUID: id, Intent: intent, Txs: txs})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.matchmakerBaseURL+"/solutions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("matchmaker returned %d: %s", resp.StatusCode, raw)
	}
	log.Printf("[solver:%s] posted to matchmaker, cached under solver:%s", e.caps.Protocol(), id)
	return nil
}

// scheduleMatchmakerRetry re-enqueues the job once one solution TTL has
// passed, whether or not the matchmaker has called back in the meantime,
// releasing the original dedup marker so the re-push isn't swallowed as
// a dupe.
func (e *Engine) scheduleMatchmakerRetry(job models.Job) {
	time.AfterFunc(matchmakerSolutionTTL, func() {
		ctx := context.Background()
		hash, err := codec.HashIntent(&job.Intent, e.caps.Protocol(), e.cfg.ChainID, e.caps.SettlementAddress())
		if err != nil {
			log.Printf("[solver:%s] matchmaker retry: hashing intent: %v", e.caps.Protocol(), err)
			return
		}
		payload, err := json.Marshal(job)
		if err != nil {
			log.Printf("[solver:%s] matchmaker retry: marshaling job: %v", e.caps.Protocol(), err)
			return
		}
		queueName := queue.QueueFor(e.caps.Protocol())
		dedupID := job.DedupKey(hash)
		if err := e.store.ReleaseDedup(ctx, queueName, dedupID); err != nil {
			log.Printf("[solver:%s] matchmaker retry: releasing dedup: %v", e.caps.Protocol(), err)
		}
		queued, err := e.store.Enqueue(ctx, queueName, dedupID, payload)
		if err != nil {
			log.Printf("[solver:%s] matchmaker retry: re-enqueue failed: %v", e.caps.Protocol(), err)
			return
		}
		if queued {
			log.Printf("[solver:%s] matchmaker silent after %s, retrying job", e.caps.Protocol(), matchmakerSolutionTTL)
		}
	})
}

// enqueuePostFill hands the newly received token off to the inventory
// manager (spec §4.5 step 10). The maker always receives buyToken; the
// solver's own wallet receives whatever it paid with as change is not
// tracked here — only the token the settlement contract just delivered.
func (e *Engine) enqueuePostFill(ctx context.Context, job *models.Job, plan *models.Plan) error {
	receivedToken := job.Intent.BuyToken
	payload, err := json.Marshal(map[string]string{"token": receivedToken.Hex()})
	if err != nil {
		return err
	}
	_, err = e.store.Enqueue(ctx, e.inventoryQueue, receivedToken.Hex(), payload)
	return err
}
