package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rawblock/memswap-solver/internal/config"
	"github.com/rawblock/memswap-solver/pkg/models"
)

// nativePlaceholder is the aggregator's convention for "native ETH" in a
// token-address field.
var nativePlaceholder = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

var withdrawSelector = selector("withdraw(uint256)")
var approveSelector = selector("approve(address,uint256)")

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// AggregatorAdapter queries an external swap-aggregator HTTP API and
// composes the resulting call with an allowance step (spec §4.2).
type AggregatorAdapter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	addrs      config.AddressBook
	chainID    int64
}

// NewAggregatorAdapter wires an aggregator client against the given
// address book and API credential.
func NewAggregatorAdapter(baseURL, apiKey string, addrs config.AddressBook, chainID int64) *AggregatorAdapter {
	return &AggregatorAdapter{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		addrs:      addrs,
		chainID:    chainID,
	}
}

type aggregatorQuoteResponse struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	BuyAmount  string `json:"buyAmount"`
	SellAmount string `json:"sellAmount"`
	Gas      string `json:"estimatedGas"`
	Price    string `json:"price"` // buyToken per 1 sellToken, base-18 fixed point
}

func (a *AggregatorAdapter) fetchQuote(ctx context.Context, sellToken, buyToken common.Address, sellAmount *big.Int) (*aggregatorQuoteResponse, error) {
	url := fmt.Sprintf("%s/quote?sellToken=%s&buyToken=%s&sellAmount=%s", a.baseURL, sellToken.Hex(), buyToken.Hex(), sellAmount.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if a.apiKey != "" {
		req.Header.Set("0x-api-key", a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aggregator request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator returned %d: %s", resp.StatusCode, string(body))
	}

	var out aggregatorQuoteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding aggregator quote: %w", err)
	}
	return &out, nil
}

// Solve implements Adapter. fillAmount is the side of the intent being
// filled (sell amount for sell intents, buy amount for buy intents).
func (a *AggregatorAdapter) Solve(ctx context.Context, intent *models.Intent, fillAmount *big.Int) (*models.Plan, error) {
	sellToken := mapNative(intent.SellToken, a.addrs.WrappedNative)
	buyToken := mapNative(intent.BuyToken, a.addrs.WrappedNative)

	sellAmount := fillAmount
	if intent.IsBuy {
		// fillAmount is the buy-side target; bump the sell-side guess by
		// the slippage cushion so the aggregator has room to quote against.
		sellAmount = applyBps(fillAmount, bps+slippageBumpBps)
	}

	q, err := a.fetchQuote(ctx, sellToken, buyToken, sellAmount)
	if err != nil {
		return nil, err
	}

	buyAmt, ok := new(big.Int).SetString(q.BuyAmount, 10)
	if !ok {
		return nil, fmt.Errorf("aggregator returned non-numeric buyAmount %q", q.BuyAmount)
	}
	sellAmt, ok := new(big.Int).SetString(q.SellAmount, 10)
	if !ok {
		return nil, fmt.Errorf("aggregator returned non-numeric sellAmount %q", q.SellAmount)
	}
	gasEstimate := uint64(0)
	if g, ok := new(big.Int).SetString(q.Gas, 10); ok {
		gasEstimate = g.Uint64()
	}
	toBaseRate, ok := new(big.Int).SetString(q.Price, 10)
	if !ok {
		toBaseRate = big.NewInt(0)
	}

	aggTo := common.HexToAddress(q.To)
	aggData := common.FromHex(q.Data)
	aggValue := big.NewInt(0)
	if v, ok := new(big.Int).SetString(q.Value, 10); ok {
		aggValue = v
	}

	var calls []models.Call
	if intent.SellToken == a.addrs.WrappedNative {
		calls = append(calls, models.Call{
			To:    a.addrs.WrappedNative,
			Data:  packWithdraw(sellAmt),
			Value: big.NewInt(0),
		})
	} else {
		calls = append(calls, models.Call{
			To:    intent.SellToken,
			Data:  packApprove(aggTo, sellAmt),
			Value: big.NewInt(0),
		})
	}
	calls = append(calls, models.Call{To: aggTo, Data: aggData, Value: aggValue})

	plan := &models.Plan{
		Calls:       calls,
		FillAmount:  fillAmount,
		ToBaseRate:  toBaseRate,
		GasEstimate: gasEstimate,
	}
	if intent.IsBuy {
		plan.MaxSellAmount = sellAmt
		plan.ExecuteAmount = sellAmt
	} else {
		plan.MinBuyAmount = buyAmt
		plan.ExecuteAmount = buyAmt
	}
	return plan, nil
}

func mapNative(token, wrappedNative common.Address) common.Address {
	if token == wrappedNative {
		return nativePlaceholder
	}
	return token
}

func packWithdraw(amount *big.Int) []byte {
	args := abi.Arguments{{Type: mustUint256()}}
	packed, _ := args.Pack(amount)
	return append(append([]byte{}, withdrawSelector...), packed...)
}

func packApprove(spender common.Address, amount *big.Int) []byte {
	args := abi.Arguments{{Type: mustAddressType()}, {Type: mustUint256()}}
	packed, _ := args.Pack(spender, amount)
	return append(append([]byte{}, approveSelector...), packed...)
}

func mustUint256() abi.Type {
	t, _ := abi.NewType("uint256", "", nil)
	return t
}

func mustAddressType() abi.Type {
	t, _ := abi.NewType("address", "", nil)
	return t
}
