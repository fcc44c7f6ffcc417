package quote

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rawblock/memswap-solver/internal/config"
	"github.com/rawblock/memswap-solver/pkg/models"
)

var permit2ApproveSelector = selector("approve(address,address,uint160,uint48)")

// RoutingTable is the local smart-order-router's pool graph, queried
// in-process rather than over HTTP.
type RoutingTable interface {
	Quote(ctx context.Context, sellToken, buyToken common.Address, amount *big.Int, exactOut bool) (RouteQuote, error)
}

// RouteQuote is what the routing table returns for one quoted route.
type RouteQuote struct {
	To          common.Address
	Data        []byte
	Value       *big.Int
	BuyAmount   *big.Int
	SellAmount  *big.Int
	GasEstimate uint64
	ToBaseRate  *big.Int
}

// RouterAdapter prices against the same settlement contract as the
// aggregator but via a local routing table, and allows through the
// canonical permit-2 singleton instead of a per-token approve.
type RouterAdapter struct {
	table RoutingTable
	addrs config.AddressBook
}

// NewRouterAdapter wires a router adapter against a routing table.
func NewRouterAdapter(table RoutingTable, addrs config.AddressBook) *RouterAdapter {
	return &RouterAdapter{table: table, addrs: addrs}
}

// Solve implements Adapter.
func (r *RouterAdapter) Solve(ctx context.Context, intent *models.Intent, fillAmount *big.Int) (*models.Plan, error) {
	rq, err := r.table.Quote(ctx, intent.SellToken, intent.BuyToken, fillAmount, intent.IsBuy)
	if err != nil {
		return nil, err
	}

	calls := []models.Call{
		{
			To:    r.addrs.Permit2,
			Data:  packPermit2Approve(intent.SellToken, rq.To, rq.SellAmount),
			Value: big.NewInt(0),
		},
		{To: rq.To, Data: rq.Data, Value: rq.Value},
	}

	plan := &models.Plan{
		Calls:       calls,
		FillAmount:  fillAmount,
		ToBaseRate:  rq.ToBaseRate,
		GasEstimate: rq.GasEstimate,
	}
	if intent.IsBuy {
		plan.MaxSellAmount = rq.SellAmount
		plan.ExecuteAmount = rq.SellAmount
	} else {
		plan.MinBuyAmount = rq.BuyAmount
		plan.ExecuteAmount = rq.BuyAmount
	}
	return plan, nil
}

func packPermit2Approve(token, spender common.Address, amount *big.Int) []byte {
	addrT, _ := abi.NewType("address", "", nil)
	uint160T, _ := abi.NewType("uint160", "", nil)
	uint48T, _ := abi.NewType("uint48", "", nil)
	args := abi.Arguments{{Type: addrT}, {Type: addrT}, {Type: uint160T}, {Type: uint48T}}
	// expiration = 0 is interpreted by the singleton as "block timestamp",
	// i.e. a one-block allowance — sufficient for an atomic settlement call.
	packed, _ := args.Pack(token, spender, amount, uint64(0))
	return append(append([]byte{}, permit2ApproveSelector...), packed...)
}
