package relay

import (
	"context"
	"log"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// PublicRelay broadcasts a single transaction directly to the node.
type PublicRelay struct {
	client *ethclient.Client
}

// NewPublicRelay wraps an ethclient for direct broadcast.
func NewPublicRelay(client *ethclient.Client) *PublicRelay {
	return &PublicRelay{client: client}
}

// Send implements Relay. Only the first transaction in the bundle is
// used — the public path never carries more than the filler tx.
func (r *PublicRelay) Send(ctx context.Context, bundle Bundle, isIncentivized bool) error {
	if len(bundle.Txs) == 0 {
		return ErrSimulation
	}
	tx := bundle.Txs[0]

	if err := r.simulate(ctx, tx); err != nil {
		if isIncentivized {
			log.Printf("[PublicRelay] simulation failed for incentivized intent, proceeding anyway: %v", err)
		} else {
			return ErrSimulation
		}
	}

	if err := r.client.SendTransaction(ctx, tx); err != nil {
		return err
	}

	_, err := waitForReceipt(ctx, r.client, tx.Hash())
	if err != nil {
		return ErrNotIncluded
	}
	return nil
}

func (r *PublicRelay) simulate(ctx context.Context, tx *types.Transaction) error {
	signer := types.LatestSignerForChainID(tx.ChainId())
	from, err := types.Sender(signer, tx)
	if err != nil {
		return err
	}
	msg := ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	_, err = r.client.CallContract(ctx, msg, nil)
	return err
}

func waitForReceipt(ctx context.Context, client *ethclient.Client, hash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if !waitTick(ctx) {
			return nil, ctx.Err()
		}
	}
}
