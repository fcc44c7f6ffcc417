package relay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// FlashbotsRelay submits a signed bundle to a Flashbots-style relay
// endpoint: eth_callBundle to simulate, eth_sendBundle to submit.
type FlashbotsRelay struct {
	httpClient *http.Client
	relayURL   string
	signer     *ecdsa.PrivateKey
	node       *ethclient.Client
}

// NewFlashbotsRelay wires a Flashbots-style relay client.
func NewFlashbotsRelay(relayURL string, signer *ecdsa.PrivateKey, node *ethclient.Client) *FlashbotsRelay {
	return &FlashbotsRelay{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		relayURL:   relayURL,
		signer:     signer,
		node:       node,
	}
}

// Send implements Relay.
func (r *FlashbotsRelay) Send(ctx context.Context, bundle Bundle, isIncentivized bool) error {
	rawTxs := make([]string, len(bundle.Txs))
	for i, tx := range bundle.Txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return err
		}
		rawTxs[i] = hexutil.Encode(raw)
	}

	simErr := r.simulate(ctx, rawTxs, bundle.TargetBlock)
	if simErr != nil {
		if isNonceMismatch(simErr) && len(bundle.UserTxHash) > 0 {
			stripped := stripUserTxs(bundle)
			rawTxs = rawTxs[:0]
			for _, tx := range stripped.Txs {
				raw, err := tx.MarshalBinary()
				if err != nil {
					return err
				}
				rawTxs = append(rawTxs, hexutil.Encode(raw))
			}
			if err := r.simulate(ctx, rawTxs, bundle.TargetBlock); err != nil {
				return ErrSimulation
			}
		} else {
			return ErrSimulation
		}
	}

	bundleHash, err := r.submit(ctx, rawTxs, bundle.TargetBlock)
	if err != nil {
		return err
	}

	return r.wait(ctx, bundle, bundleHash)
}

func (r *FlashbotsRelay) simulate(ctx context.Context, rawTxs []string, targetBlock uint64) error {
	params := map[string]any{
		"txs":              rawTxs,
		"blockNumber":      hexutil.EncodeUint64(targetBlock),
	}
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_callBundle",
		"params":  []any{params},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	status, respBody, err := r.post(ctx, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: simulation HTTP %d: %s", ErrSimulation, status, respBody)
	}

	var parsed struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Result struct {
			Results []struct {
				Error string `json:"error"`
			} `json:"results"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(respBody), &parsed); err != nil {
		return fmt.Errorf("%w: decoding simulation response: %v", ErrSimulation, err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("%w: %s", ErrSimulation, parsed.Error.Message)
	}
	for _, res := range parsed.Result.Results {
		if res.Error != "" {
			return fmt.Errorf("%w: %s", ErrSimulation, res.Error)
		}
	}
	return nil
}

func isNonceMismatch(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") || strings.Contains(msg, "nonce too high")
}

func stripUserTxs(bundle Bundle) Bundle {
	userSet := make(map[string]bool, len(bundle.UserTxHash))
	for _, h := range bundle.UserTxHash {
		userSet[h] = true
	}
	out := Bundle{TargetBlock: bundle.TargetBlock}
	for _, tx := range bundle.Txs {
		if userSet[tx.Hash().Hex()] {
			continue
		}
		out.Txs = append(out.Txs, tx)
	}
	return out
}

func (r *FlashbotsRelay) submit(ctx context.Context, rawTxs []string, targetBlock uint64) (string, error) {
	params := map[string]any{
		"txs":         rawTxs,
		"blockNumber": hexutil.EncodeUint64(targetBlock),
	}
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_sendBundle",
		"params":  []any{params},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	status, respBody, err := r.post(ctx, body)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w: submit HTTP %d: %s", ErrNotIncluded, status, respBody)
	}

	var parsed struct {
		Result struct {
			BundleHash string `json:"bundleHash"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(respBody), &parsed); err != nil {
		return "", fmt.Errorf("decoding submit response: %w", err)
	}
	return parsed.Result.BundleHash, nil
}

// wait polls for the bundle's inclusion until the target block passes.
// A resolution of BundleIncluded, or AccountNonceTooHigh paired with a
// confirmed receipt on the last transaction's hash, counts as success.
func (r *FlashbotsRelay) wait(ctx context.Context, bundle Bundle, bundleHash string) error {
	last := bundle.Txs[len(bundle.Txs)-1]
	for {
		status, respBody, err := r.getBundleStats(ctx, bundleHash, bundle.TargetBlock)
		if err == nil {
			if status == "BundleIncluded" {
				return nil
			}
			if status == "AccountNonceTooHigh" && r.receiptConfirmed(ctx, last.Hash()) {
				return nil
			}
			_ = respBody
		}
		if head, err := r.node.BlockNumber(ctx); err == nil && head > bundle.TargetBlock {
			return ErrNotIncluded
		}
		if !waitTick(ctx) {
			return ErrNotIncluded
		}
		select {
		case <-ctx.Done():
			return ErrNotIncluded
		default:
		}
	}
}

func (r *FlashbotsRelay) getBundleStats(ctx context.Context, bundleHash string, targetBlock uint64) (string, string, error) {
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "flashbots_getBundleStatsV2",
		"params":  []any{map[string]any{"bundleHash": bundleHash, "blockNumber": hexutil.EncodeUint64(targetBlock)}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", "", err
	}
	status, respBody, err := r.post(ctx, body)
	if err != nil {
		return "", "", err
	}
	var parsed struct {
		Result struct {
			ConsideredByBuildersAt string `json:"consideredByBuildersAt"`
			SimulatedAt            string `json:"simulatedAt"`
			Status                 string `json:"status"`
		} `json:"result"`
	}
	_ = json.Unmarshal([]byte(respBody), &parsed)
	return parsed.Result.Status, respBody, nil
}

// receiptConfirmed is a best-effort check that the node has a receipt
// for txHash. It is used by the AccountNonceTooHigh fallback path and by
// BloxrouteRelay's inclusion race.
func (r *FlashbotsRelay) receiptConfirmed(ctx context.Context, txHash common.Hash) bool {
	receipt, err := r.node.TransactionReceipt(ctx, txHash)
	return err == nil && receipt != nil
}

func (r *FlashbotsRelay) post(ctx context.Context, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.relayURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if sig := r.signHeader(body); sig != "" {
		req.Header.Set("X-Flashbots-Signature", sig)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, string(raw), nil
}

// signHeader signs the Flashbots-required digest: EIP-191 over the hex
// string of keccak256(body).
func (r *FlashbotsRelay) signHeader(body []byte) string {
	hashedHex := crypto.Keccak256Hash(body).Hex()
	digest := accounts.TextHash([]byte(hashedHex))
	sig, err := crypto.Sign(digest, r.signer)
	if err != nil {
		return ""
	}
	addr := crypto.PubkeyToAddress(r.signer.PublicKey)
	return fmt.Sprintf("%s:%s", addr.Hex(), hexutil.Encode(sig))
}
