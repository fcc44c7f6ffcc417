package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const pessimisticBlockTime = 13 * time.Second
const rateLimitBackoff = 1100 * time.Millisecond

// majorBuilders is the set of builder endpoints a Private-B submission
// fans out to, in addition to the relay's own default routing.
var majorBuilders = []string{"flashbots", "beaverbuild", "titanbuilder", "rsync"}

// BloxrouteRelay submits through a bloXroute-style JSON-RPC gateway that
// fans a bundle out to the major builders itself. It borrows the
// Flashbots relay purely for pre-submission simulation safety.
type BloxrouteRelay struct {
	httpClient *http.Client
	gatewayURL string
	authHeader string
	simulator  *FlashbotsRelay
}

// NewBloxrouteRelay wires a bloXroute-style relay client. simulator is
// used only for its simulate step, never for submission.
func NewBloxrouteRelay(gatewayURL, authHeader string, simulator *FlashbotsRelay) *BloxrouteRelay {
	return &BloxrouteRelay{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		gatewayURL: gatewayURL,
		authHeader: authHeader,
		simulator:  simulator,
	}
}

// Send implements Relay.
func (r *BloxrouteRelay) Send(ctx context.Context, bundle Bundle, isIncentivized bool) error {
	rawTxs := make([]string, len(bundle.Txs))
	for i, tx := range bundle.Txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return err
		}
		rawTxs[i] = hexutil.Encode(raw)
	}

	if err := r.simulator.simulate(ctx, rawTxs, bundle.TargetBlock); err != nil {
		if isNonceMismatch(err) && len(bundle.UserTxHash) > 0 {
			stripped := stripUserTxs(bundle)
			rawTxs = rawTxs[:0]
			for _, tx := range stripped.Txs {
				raw, err := tx.MarshalBinary()
				if err != nil {
					return err
				}
				rawTxs = append(rawTxs, hexutil.Encode(raw))
			}
			if err := r.simulator.simulate(ctx, rawTxs, bundle.TargetBlock); err != nil {
				return ErrSimulation
			}
		} else {
			return ErrSimulation
		}
	}

	if err := r.submitWithRetry(ctx, rawTxs, bundle.TargetBlock); err != nil {
		return err
	}

	return r.raceInclusion(ctx, bundle)
}

func (r *BloxrouteRelay) submitWithRetry(ctx context.Context, rawTxs []string, targetBlock uint64) error {
	for {
		status, body, err := r.submit(ctx, rawTxs, targetBlock)
		if err != nil {
			return err
		}
		if status == http.StatusTooManyRequests || strings.Contains(body, "per second") {
			select {
			case <-ctx.Done():
				return ErrRateLimit
			case <-time.After(rateLimitBackoff):
			}
			continue
		}
		if status != http.StatusOK {
			return fmt.Errorf("%w: bloxroute submit HTTP %d: %s", ErrNotIncluded, status, body)
		}
		return nil
	}
}

func (r *BloxrouteRelay) submit(ctx context.Context, rawTxs []string, targetBlock uint64) (int, string, error) {
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "blxr_submit_bundle",
		"params": []any{map[string]any{
			"transaction":   rawTxs,
			"block_number":  hexutil.EncodeUint64(targetBlock),
			"mev_builders":  builderMap(),
		}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", r.authHeader)

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

func builderMap() map[string]string {
	m := make(map[string]string, len(majorBuilders))
	for _, b := range majorBuilders {
		m[b] = "all"
	}
	return m
}

// raceInclusion polls the node directly for the last transaction's
// receipt, racing against the pessimistic block-time timeout — bloXroute's
// own bundle-status API is eventually consistent across its builder
// fan-out, so a direct receipt check is the more reliable signal here.
func (r *BloxrouteRelay) raceInclusion(ctx context.Context, bundle Bundle) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, pessimisticBlockTime)
	defer cancel()

	last := bundle.Txs[len(bundle.Txs)-1]
	for {
		if r.simulator.receiptConfirmed(timeoutCtx, last.Hash()) {
			return nil
		}
		select {
		case <-timeoutCtx.Done():
			return ErrNotIncluded
		case <-time.After(pollInterval):
		}
	}
}
