// Package listener subscribes to the node's pending-transaction feed,
// classifies each transaction's calldata, and enqueues a solve job for
// anything that carries an intent. Grounded on the teacher's mempool
// poller: a long-lived loop over a node subscription, log-and-continue
// on any decode failure, and a bounded concurrency fan-out instead of a
// flat per-tx goroutine.
package listener

import (
	"context"
	"encoding/json"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/rawblock/memswap-solver/internal/codec"
	"github.com/rawblock/memswap-solver/internal/config"
	"github.com/rawblock/memswap-solver/internal/queue"
	"github.com/rawblock/memswap-solver/pkg/models"
)

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

const concurrencyCap = 500

// Listener watches pending transactions and enqueues solve jobs.
type Listener struct {
	client  *ethclient.Client
	store   *queue.Store
	addrs   config.AddressBook
	chainID int64

	sem chan struct{}
}

// New wires a listener against a node client and the shared queue store.
func New(client *ethclient.Client, store *queue.Store, addrs config.AddressBook, chainID int64) *Listener {
	return &Listener{
		client:  client,
		store:   store,
		addrs:   addrs,
		chainID: chainID,
		sem:     make(chan struct{}, concurrencyCap),
	}
}

// Run subscribes to pending transaction hashes and processes each one in
// its own goroutine, bounded by the concurrency cap, until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	hashes := make(chan common.Hash, concurrencyCap)
	sub, err := l.client.Client().EthSubscribe(ctx, hashes, "newPendingTransactions")
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	log.Println("[Listener] subscribed to pending transactions")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			log.Printf("[Listener] subscription error: %v", err)
			return err
		case hash := <-hashes:
			l.sem <- struct{}{}
			go func(h common.Hash) {
				defer func() { <-l.sem }()
				l.handle(ctx, h)
			}(hash)
		}
	}
}

func (l *Listener) handle(ctx context.Context, hash common.Hash) {
	tx, isPending, err := l.client.TransactionByHash(ctx, hash)
	if err != nil {
		return
	}
	if !isPending || tx == nil {
		return
	}

	data := tx.Data()
	if len(data) < 4 {
		return
	}

	protocol := protocolFor(tx.To(), l.addrs)

	// Entry-shape classification: pure-approval (tail decodes as the
	// piggyback payload), deposit-and-approve (same, on the helper
	// contract), or direct-submit (whole calldata is the ABI-encoded
	// intent tail with no leading selector). Any decode error is a
	// silent skip — this stream is untrusted.
	shape, payload := classify(data)
	if shape == shapeUnknown {
		return
	}

	intent, err := codec.DecodeIntentTail(payload, protocol)
	if err != nil {
		return
	}

	job := models.Job{
		Intent:             *intent,
		Protocol:           protocol,
		ApprovalTxOrTxHash: hash.Hex(),
	}
	l.enqueue(ctx, protocol, job, *intent)
}

type entryShape int

const (
	shapeUnknown entryShape = iota
	shapePureApproval
	shapeDepositAndApprove
	shapeDirectSubmit
)

var approveSelectorBytes = selector("approve(address,uint256)")
var depositAndApproveSelectorBytes = selector("depositAndApprove(address,uint256)")

// protocolFor maps the transaction's destination to the protocol whose
// settlement (or helper) contract it targets; unrecognized destinations
// default to the ERC-20 direct-submit path, the listener's most common case.
func protocolFor(to *common.Address, addrs config.AddressBook) models.Protocol {
	if to != nil && *to == addrs.Settlement721 {
		return models.ProtocolERC721
	}
	return models.ProtocolERC20
}

func classify(data []byte) (entryShape, []byte) {
	if len(data) < 4 {
		return shapeUnknown, nil
	}
	sel := data[:4]
	switch {
	case string(sel) == string(approveSelectorBytes) && len(data) > 68:
		return shapePureApproval, data[68:]
	case string(sel) == string(depositAndApproveSelectorBytes) && len(data) > 68:
		return shapeDepositAndApprove, data[68:]
	default:
		return shapeDirectSubmit, data
	}
}

func (l *Listener) enqueue(ctx context.Context, protocol models.Protocol, job models.Job, intent models.Intent) {
	settlement := l.addrs.Settlement20
	if protocol == models.ProtocolERC721 {
		settlement = l.addrs.Settlement721
	}
	hash, err := codec.HashIntent(&intent, protocol, l.chainID, settlement)
	if err != nil {
		return
	}

	payload, err := json.Marshal(job)
	if err != nil {
		log.Printf("[Listener] marshal job: %v", err)
		return
	}

	qname := queue.QueueFor(protocol)

	dedup := job.DedupKey(hash)
	added, err := l.store.Enqueue(ctx, qname, dedup, payload)
	if err != nil {
		log.Printf("[Listener] enqueue error: %v", err)
		return
	}
	if added {
		log.Printf("[Listener] enqueued %s intent %x", protocol, hash)
	}
}
