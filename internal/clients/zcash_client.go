package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bridge-backend/internal/bridge"
)

func containsInsufficientFunds(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
}

// ZcashClient talks to a zcashd-compatible JSON-RPC endpoint over the
// shielded pool the bridge custodies.
type ZcashClient struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger

	// sendMu serializes shielded sends. The underlying wallet builds one
	// transaction at a time against its note set; a second concurrent
	// send racing the same notes would double-spend at the RPC layer.
	sendMu sync.Mutex
}

// NewZcashClient creates a client with the given RPC timeout.
func NewZcashClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *ZcashClient {
	return &ZcashClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// ScannedOutput is one shielded output surfaced by ScanFrom, already
// decrypted against the bridge's viewing key.
type ScannedOutput struct {
	TxID       string
	BlockHeight uint64
	TxPos       uint32
	Memo        string // memo exactly as the node returned it; the relayer hex-decodes it
	AmountBase  uint64 // zatoshi
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *ZcashClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: "bridge", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", bridge.ErrNodeUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read rpc response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", bridge.ErrNodeUnavailable, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return bridge.ErrRateLimited
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("zcashd rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("unmarshal rpc result: %w", err)
		}
	}
	return nil
}

// CurrentTip returns the node's current block height.
func (c *ZcashClient) CurrentTip(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// ScanFrom returns shielded outputs to the bridge pool address between
// fromBlock and fromBlock+maxBlocks, in the order the node lists them;
// no sorting is applied here.
func (c *ZcashClient) ScanFrom(ctx context.Context, poolAddr string, fromBlock uint64, maxBlocks uint64) ([]ScannedOutput, error) {
	var raw []struct {
		TxID      string `json:"txid"`
		Height    uint64 `json:"height"`
		OutIndex  uint32 `json:"outindex"`
		Memo      string `json:"memo"`
		AmountZat uint64 `json:"amount"`
	}
	toBlock := fromBlock + maxBlocks
	if err := c.call(ctx, "z_listreceivedbyaddress_range", []interface{}{poolAddr, fromBlock, toBlock}, &raw); err != nil {
		return nil, err
	}

	outputs := make([]ScannedOutput, 0, len(raw))
	for _, r := range raw {
		outputs = append(outputs, ScannedOutput{
			TxID:        r.TxID,
			BlockHeight: r.Height,
			TxPos:       r.OutIndex,
			Memo:        r.Memo,
			AmountBase:  r.AmountZat,
		})
	}
	return outputs, nil
}

// GetBalance returns the bridge pool's confirmed shielded balance in
// zatoshi.
func (c *ZcashClient) GetBalance(ctx context.Context, poolAddr string) (uint64, error) {
	var balance uint64
	if err := c.call(ctx, "z_getbalance", []interface{}{poolAddr}, &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// SendShielded pays amountBase zatoshi from the bridge pool address to
// toAddr, then polls the resulting operation to completion and returns
// its txid. Held under sendMu for the whole build-broadcast-and-poll
// round trip.
func (c *ZcashClient) SendShielded(ctx context.Context, fromAddr, toAddr string, amountBase uint64) (string, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	amountZec := float64(amountBase) / 1e8
	recipients := []map[string]interface{}{{"address": toAddr, "amount": amountZec}}

	var opid string
	if err := c.call(ctx, "z_sendmany", []interface{}{fromAddr, recipients}, &opid); err != nil {
		if containsInsufficientFunds(err) {
			return "", fmt.Errorf("%w: %v", bridge.ErrInsufficientFunds, err)
		}
		return "", err
	}
	return c.waitForOperation(ctx, opid)
}

// waitForOperation polls z_getoperationstatus until the send either
// confirms (returning its txid) or fails/expires.
func (c *ZcashClient) waitForOperation(ctx context.Context, opid string) (string, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: waiting on operation %s", bridge.ErrRPCTimeout, opid)
		case <-ticker.C:
			var statuses []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Result struct {
					TxID string `json:"txid"`
				} `json:"result"`
				Error *rpcError `json:"error"`
			}
			if err := c.call(ctx, "z_getoperationstatus", []interface{}{[]string{opid}}, &statuses); err != nil {
				return "", err
			}
			for _, s := range statuses {
				if s.ID != opid {
					continue
				}
				switch s.Status {
				case "success":
					return s.Result.TxID, nil
				case "failed":
					msg := "unknown"
					if s.Error != nil {
						msg = s.Error.Message
					}
					return "", fmt.Errorf("send operation failed: %s", msg)
				case "cancelled":
					return "", fmt.Errorf("%w: operation cancelled", bridge.ErrExpiryRejected)
				}
			}
		}
	}
}
