package solver

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/rawblock/memswap-solver/internal/config"
	"github.com/rawblock/memswap-solver/internal/quote"
	"github.com/rawblock/memswap-solver/pkg/models"
)

// ERC20Capabilities wires the shared Engine to the ERC-20 settlement
// contract and its aggregator-backed quote adapter.
type ERC20Capabilities struct {
	cfg     *config.Config
	adapter quote.Adapter
}

// NewERC20Capabilities builds the ERC-20 protocol capability set. adapter
// is typically an *quote.AggregatorAdapter but any quote.Adapter works.
func NewERC20Capabilities(cfg *config.Config, adapter quote.Adapter) *ERC20Capabilities {
	return &ERC20Capabilities{cfg: cfg, adapter: adapter}
}

func (c *ERC20Capabilities) Protocol() models.Protocol { return models.ProtocolERC20 }

func (c *ERC20Capabilities) SettlementAddress() common.Address {
	return c.cfg.Addresses.Settlement20
}

// ExtraPrecondition has nothing beyond the shared checks for ERC-20 — the
// settlement contract itself enforces partial-fill accounting on-chain.
func (c *ERC20Capabilities) ExtraPrecondition(intent *models.Intent) error {
	return nil
}

func (c *ERC20Capabilities) Adapter() quote.Adapter { return c.adapter }

func (c *ERC20Capabilities) EncodeSolve(variant SolveVariant, intent *models.Intent, plan *models.Plan, auth *models.Authorization) ([]byte, error) {
	return encodeSolve(variant, models.ProtocolERC20, intent, plan, auth)
}

// ForceBundle is never required for ERC-20 beyond the approval-mined
// check the shared pipeline already applies.
func (c *ERC20Capabilities) ForceBundle(plan *models.Plan) bool { return false }
