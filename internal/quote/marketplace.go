package quote

import (
	"bytes"
	"context"
	"crypto/ecdsa"
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

var transferFromSelector = selector("transferFrom(address,address,uint256)")
var setApprovalForAllSelector = selector("setApprovalForAll(address,bool)")

// MarketplaceAdapter prices ERC-721 buy intents against an NFT routing
// API. The API itself decides whether a listing is reachable in a single
// settlement callback or needs a solver-EOA purchase transaction first.
type MarketplaceAdapter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	addrs      config.AddressBook
	solverKey  *ecdsa.PrivateKey
	solverAddr common.Address
}

// NewMarketplaceAdapter wires a marketplace adapter for the ERC-721 flow.
func NewMarketplaceAdapter(baseURL, apiKey string, addrs config.AddressBook, solverKey *ecdsa.PrivateKey, solverAddr common.Address) *MarketplaceAdapter {
	return &MarketplaceAdapter{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		addrs:      addrs,
		solverKey:  solverKey,
		solverAddr: solverAddr,
	}
}

type routeResponse struct {
	Mode          string `json:"mode"` // "single-hop" | "multi-tx"
	To            string `json:"to"`
	Data          string `json:"data"`
	Value         string `json:"value"`
	GasEstimate   string `json:"gasEstimate"`
	MaxSellInEth  string `json:"maxSellAmountInEth"`
	SellEthRate   string `json:"sellTokenToEthRate"`
	ChallengeURL  string `json:"challengeUrl,omitempty"`
	Challenge     string `json:"challengeMessage,omitempty"`
	TokenContract string `json:"tokenContract,omitempty"`
	TokenID       string `json:"tokenId,omitempty"`
	IsRestricted  bool   `json:"isRestrictedMarketplace"`
	IsNonNative   bool   `json:"isNonNativeCurrency"`
}

// Solve implements Adapter. fillAmount is the quantity of tokens to buy
// (always 1 in the current collection-wide-only scope, but the adapter
// does not assume that).
func (m *MarketplaceAdapter) Solve(ctx context.Context, intent *models.Intent, fillAmount *big.Int) (*models.Plan, error) {
	route, err := m.fetchRoute(ctx, intent, fillAmount)
	if err != nil {
		return nil, err
	}

	maxSellEth, _ := new(big.Int).SetString(route.MaxSellInEth, 10)
	sellRate, _ := new(big.Int).SetString(route.SellEthRate, 10)
	gasEstimate := uint64(0)
	if g, ok := new(big.Int).SetString(route.GasEstimate, 10); ok {
		gasEstimate = g.Uint64()
	}

	plan := &models.Plan{
		FillAmount:    fillAmount,
		MaxSellAmount: maxSellEth,
		ExecuteAmount: maxSellEth,
		ToBaseRate:    sellRate,
		GasEstimate:   gasEstimate,
	}

	if route.Mode == "single-hop" {
		value := big.NewInt(0)
		if v, ok := new(big.Int).SetString(route.Value, 10); ok {
			value = v
		}
		plan.Calls = []models.Call{{
			To:    common.HexToAddress(route.To),
			Data:  common.FromHex(route.Data),
			Value: value,
		}}
		return plan, nil
	}

	preTxs, err := m.buildMultiTxPreTxs(ctx, route)
	if err != nil {
		return nil, err
	}
	plan.PreTxs = preTxs

	tokenContract := common.HexToAddress(route.TokenContract)
	tokenID, _ := new(big.Int).SetString(route.TokenID, 10)
	plan.Calls = []models.Call{{
		To:    tokenContract,
		Data:  packTransferFrom(m.solverAddr, intent.Maker, tokenID),
		Value: big.NewInt(0),
	}}
	return plan, nil
}

func (m *MarketplaceAdapter) fetchRoute(ctx context.Context, intent *models.Intent, fillAmount *big.Int) (*routeResponse, error) {
	reqBody, err := json.Marshal(map[string]any{
		"collection": intent.BuyToken.Hex(),
		"quantity":   fillAmount.String(),
		"taker":      m.solverAddr.Hex(),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/route", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("x-api-key", m.apiKey)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketplace routing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("marketplace routing returned %d: %s", resp.StatusCode, string(body))
	}

	var out routeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding marketplace route: %w", err)
	}
	return &out, nil
}

// buildMultiTxPreTxs assembles the solver-EOA pre-transactions: an
// optional marketplace authentication challenge, the purchase itself,
// and — if the marketplace requires it — a setApprovalForAll to the
// settlement contract so the inside-callback transferFrom can succeed.
func (m *MarketplaceAdapter) buildMultiTxPreTxs(ctx context.Context, route *routeResponse) ([]models.PreTx, error) {
	if route.ChallengeURL != "" && route.Challenge != "" {
		if err := m.signAndPostChallenge(ctx, route); err != nil {
			return nil, fmt.Errorf("marketplace auth challenge: %w", err)
		}
	}

	value := big.NewInt(0)
	if v, ok := new(big.Int).SetString(route.Value, 10); ok {
		value = v
	}

	preTxs := []models.PreTx{{
		To:    common.HexToAddress(route.To),
		Data:  common.FromHex(route.Data),
		Value: value,
	}}

	if route.IsRestricted {
		preTxs = append(preTxs, models.PreTx{
			To:    common.HexToAddress(route.TokenContract),
			Data:  packSetApprovalForAll(m.addrs.Settlement721, true),
			Value: big.NewInt(0),
		})
	}
	return preTxs, nil
}

func (m *MarketplaceAdapter) signAndPostChallenge(ctx context.Context, route *routeResponse) error {
	digest := crypto.Keccak256([]byte(route.Challenge))
	sig, err := crypto.Sign(digest, m.solverKey)
	if err != nil {
		return err
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	body, err := json.Marshal(map[string]string{
		"signature": fmt.Sprintf("0x%x", sig),
		"address":   m.solverAddr.Hex(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, route.ChallengeURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("challenge endpoint returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func packTransferFrom(from, to common.Address, tokenID *big.Int) []byte {
	addrT, _ := abi.NewType("address", "", nil)
	uint256T, _ := abi.NewType("uint256", "", nil)
	args := abi.Arguments{{Type: addrT}, {Type: addrT}, {Type: uint256T}}
	packed, _ := args.Pack(from, to, tokenID)
	return append(append([]byte{}, transferFromSelector...), packed...)
}

func packSetApprovalForAll(operator common.Address, approved bool) []byte {
	addrT, _ := abi.NewType("address", "", nil)
	boolT, _ := abi.NewType("bool", "", nil)
	args := abi.Arguments{{Type: addrT}, {Type: boolT}}
	packed, _ := args.Pack(operator, approved)
	return append(append([]byte{}, setApprovalForAllSelector...), packed...)
}
