package solver

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rawblock/memswap-solver/internal/config"
	"github.com/rawblock/memswap-solver/internal/quote"
	"github.com/rawblock/memswap-solver/pkg/models"
)

// ERC721Capabilities wires the shared Engine to the ERC-721 settlement
// contract and the NFT marketplace adapter. Only buy, collection-wide
// intents are supported (spec §4.6).
type ERC721Capabilities struct {
	cfg     *config.Config
	adapter quote.Adapter
}

func NewERC721Capabilities(cfg *config.Config, adapter quote.Adapter) *ERC721Capabilities {
	return &ERC721Capabilities{cfg: cfg, adapter: adapter}
}

func (c *ERC721Capabilities) Protocol() models.Protocol { return models.ProtocolERC721 }

func (c *ERC721Capabilities) SettlementAddress() common.Address {
	return c.cfg.Addresses.Settlement721
}

func (c *ERC721Capabilities) ExtraPrecondition(intent *models.Intent) error {
	if !intent.IsBuy {
		return fmt.Errorf("only buy intents are supported for ERC-721")
	}
	if !intent.IsCollectionWide() {
		return fmt.Errorf("only collection-wide intents are supported for ERC-721")
	}
	return nil
}

func (c *ERC721Capabilities) Adapter() quote.Adapter { return c.adapter }

func (c *ERC721Capabilities) EncodeSolve(variant SolveVariant, intent *models.Intent, plan *models.Plan, auth *models.Authorization) ([]byte, error) {
	return encodeSolve(variant, models.ProtocolERC721, intent, plan, auth)
}

// ForceBundle is required whenever the marketplace adapter returned
// pre-transactions: they and the settlement call must land atomically.
func (c *ERC721Capabilities) ForceBundle(plan *models.Plan) bool {
	return len(plan.PreTxs) >= 1
}
