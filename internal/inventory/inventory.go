// Package inventory runs the post-fill liquidation job: tokens the
// solver accumulates from settlement calls get swept back to the base
// native token on an hourly schedule (spec §4.7).
package inventory

import (
	"context"
	"encoding/json"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/robfig/cron/v3"

	"github.com/rawblock/memswap-solver/internal/config"
	"github.com/rawblock/memswap-solver/internal/quote"
	"github.com/rawblock/memswap-solver/internal/queue"
	"github.com/rawblock/memswap-solver/pkg/models"
)

const (
	minBaseUnitsThreshold = "10000000000000000" // 0.01 base units, 18 decimals
	maxBaseFeeWei         = 25_000_000_000       // 25 gwei
)

var minBaseUnits, _ = new(big.Int).SetString(minBaseUnitsThreshold, 10)

// Manager sweeps accumulated tokens back to base-native on a fixed
// schedule. It consumes the same inventory queue the solver engines
// enqueue a token address to after every fill.
type Manager struct {
	node       *ethclient.Client
	store      *queue.Store
	cfg        *config.Config
	aggregator quote.Adapter
	cron       *cron.Cron
	queueName  string
}

func NewManager(node *ethclient.Client, store *queue.Store, cfg *config.Config, aggregator quote.Adapter, queueName string) *Manager {
	return &Manager{node: node, store: store, cfg: cfg, aggregator: aggregator, queueName: queueName, cron: cron.New()}
}

// Start schedules the hourly sweep and begins draining the queue of
// tokens discovered by the solver engines.
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.cron.AddFunc("@hourly", func() { m.sweepKnownTokens(ctx) }); err != nil {
		return err
	}
	m.cron.Start()
	go m.drainQueue(ctx)
	return nil
}

func (m *Manager) Stop() {
	m.cron.Stop()
}

// drainQueue watches for freshly-discovered token addresses pushed by
// the solver engines and liquidates them immediately rather than
// waiting for the next hourly tick, subject to the same thresholds.
func (m *Manager) drainQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		payload, err := m.store.Dequeue(ctx, m.queueName, 2*time.Second)
		if err != nil {
			log.Printf("[inventory] dequeue error: %v", err)
			continue
		}
		if payload == nil {
			continue
		}
		var msg struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Token == "" {
			continue
		}
		token := common.HexToAddress(msg.Token)
		if err := m.liquidate(ctx, token); err != nil {
			log.Printf("[inventory] liquidate %s: %v", token.Hex(), err)
		}
	}
}

func (m *Manager) sweepKnownTokens(ctx context.Context) {
	tokens, err := m.store.SMembers(ctx, "inventory:known-tokens")
	if err != nil {
		log.Printf("[inventory] known-token lookup failed: %v", err)
		return
	}
	for _, t := range tokens {
		token := common.HexToAddress(t)
		if err := m.liquidate(ctx, token); err != nil {
			log.Printf("[inventory] liquidate %s: %v", token.Hex(), err)
		}
	}
}

// liquidate implements the per-token job body from spec §4.7: balance
// and base-fee gate, unwrap for wrapped-native, otherwise aggregator
// swap with allowance top-up.
func (m *Manager) liquidate(ctx context.Context, token common.Address) error {
	if token == (common.Address{}) {
		return nil
	}
	m.store.SAdd(ctx, "inventory:known-tokens", token.Hex())

	balance, err := m.erc20BalanceOf(ctx, token, m.cfg.SolverAddress)
	if err != nil {
		return err
	}
	if balance.Cmp(minBaseUnits) < 0 {
		return nil
	}

	head, err := m.node.BlockByNumber(ctx, nil)
	if err != nil {
		return err
	}
	baseFee := head.BaseFee()
	if baseFee != nil && baseFee.Cmp(big.NewInt(maxBaseFeeWei)) > 0 {
		log.Printf("[inventory] base fee too high, skipping %s", token.Hex())
		return nil
	}

	if token == m.cfg.Addresses.WrappedNative {
		return m.unwrap(ctx, token, balance)
	}
	return m.swapToBase(ctx, token, balance)
}

func (m *Manager) unwrap(ctx context.Context, token common.Address, amount *big.Int) error {
	data := packWithdrawAmount(amount)
	return m.send(ctx, token, big.NewInt(0), data)
}

func (m *Manager) swapToBase(ctx context.Context, token common.Address, amount *big.Int) error {
	intent := &models.Intent{
		IsBuy:     false,
		SellToken: token,
		BuyToken:  m.cfg.Addresses.WrappedNative,
		Amount:    amount,
		EndAmount: amount,
	}
	plan, err := m.aggregator.Solve(ctx, intent, amount)
	if err != nil {
		return err
	}
	for _, call := range plan.Calls {
		if err := m.send(ctx, call.To, call.Value, call.Data); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) send(ctx context.Context, to common.Address, value *big.Int, data []byte) error {
	nonce, err := m.node.PendingNonceAt(ctx, m.cfg.SolverAddress)
	if err != nil {
		return err
	}
	head, err := m.node.BlockByNumber(ctx, nil)
	if err != nil {
		return err
	}
	baseFee := head.BaseFee()
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	priorityFee := big.NewInt(1_000_000_000)
	gasFeeCap := new(big.Int).Add(baseFee, priorityFee)

	gasLimit, err := m.node.EstimateGas(ctx, callMsg(m.cfg.SolverAddress, to, value, data))
	if err != nil {
		gasLimit = uint64(config.DefaultSwapGas)
	}

	txData := &types.DynamicFeeTx{
		ChainID:   big.NewInt(m.cfg.ChainID),
		Nonce:     nonce,
		GasTipCap: priorityFee,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	}
	signer := types.LatestSignerForChainID(big.NewInt(m.cfg.ChainID))
	tx, err := types.SignTx(types.NewTx(txData), signer, m.cfg.SolverKey)
	if err != nil {
		return err
	}
	return m.node.SendTransaction(ctx, tx)
}

func (m *Manager) erc20BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	addrT, _ := abi.NewType("address", "", nil)
	args := abi.Arguments{{Type: addrT}}
	packed, err := args.Pack(owner)
	if err != nil {
		return nil, err
	}
	data := append(selector("balanceOf(address)"), packed...)
	out, err := m.node.CallContract(ctx, callMsg(m.cfg.SolverAddress, token, big.NewInt(0), data), nil)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

func callMsg(from, to common.Address, value *big.Int, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{From: from, To: &to, Value: value, Data: data}
}

// packWithdrawAmount ABI-encodes the wrapped-native withdraw(uint256)
// call used to unwrap back to the base native token.
func packWithdrawAmount(amount *big.Int) []byte {
	uint256T, _ := abi.NewType("uint256", "", nil)
	args := abi.Arguments{{Type: uint256T}}
	packed, _ := args.Pack(amount)
	return append(selector("withdraw(uint256)"), packed...)
}
