package clients

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bridge-backend/internal/bridge"
)

// MidenClient talks to a Miden node's RPC surface for the operations
// the bridge's two relayers need: minting hash-locked deposit notes and
// consuming exit notes tagged for the bridge account.
type MidenClient struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger

	// consumeMu serializes note consumption against the bridge account;
	// the account's nonce advances by one per transaction, so concurrent
	// consumes racing the same nonce would collide at submission.
	consumeMu sync.Mutex
}

func NewMidenClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *MidenClient {
	return &MidenClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// ExitNote is a note tagged for the bridge's exit use-case, observed
// consumable in the bridge account's vault.
type ExitNote struct {
	NoteID          string
	ZcashAddress    string // destination encoded in the note's metadata
	AmountBase      uint64
	ConsumableSince uint64 // block height
}

type midenRPCError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (c *MidenClient) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal miden request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build miden request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", bridge.ErrNodeUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read miden response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", bridge.ErrNodeUnavailable, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return bridge.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		var rpcErr midenRPCError
		if json.Unmarshal(respBody, &rpcErr) == nil && rpcErr.Message != "" {
			return fmt.Errorf("miden rpc error (%s): %s", rpcErr.Code, rpcErr.Message)
		}
		return fmt.Errorf("miden node returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal miden response: %w", err)
		}
	}
	return nil
}

// Sync advances the client's view of chain state; callers issue it
// before reading vault contents so ListConsumableExitNotes observes a
// recent block.
func (c *MidenClient) Sync(ctx context.Context) (uint64, error) {
	var result struct {
		ChainTip uint64 `json:"chain_tip"`
	}
	if err := c.post(ctx, "/sync", struct{}{}, &result); err != nil {
		return 0, err
	}
	return result.ChainTip, nil
}

// MintP2IDHRequest describes a hash-locked deposit note to mint from the
// bridge account against a faucet, unlockable by whoever supplies the
// secret that derives recipientHash.
type MintP2IDHRequest struct {
	FaucetID      string
	BridgeAccount string
	RecipientHash string // hex, 32 bytes
	AmountBase    uint64
	Tag           uint16
}

// MintP2IDH submits a mint transaction for a P2IDH note and returns its
// note id once the node accepts the transaction.
func (c *MidenClient) MintP2IDH(ctx context.Context, req MintP2IDHRequest) (string, error) {
	var result struct {
		NoteID string `json:"note_id"`
	}
	payload := map[string]interface{}{
		"faucet_id":      req.FaucetID,
		"sender_account": req.BridgeAccount,
		"recipient_hash": req.RecipientHash,
		"amount":         req.AmountBase,
		"tag":            req.Tag,
		"note_type":      "P2IDH",
	}
	if err := c.post(ctx, "/notes/mint", payload, &result); err != nil {
		return "", err
	}
	return result.NoteID, nil
}

// ListConsumableExitNotes returns exit notes tagged exitTag that the
// bridge account can currently consume.
func (c *MidenClient) ListConsumableExitNotes(ctx context.Context, bridgeAccount string, exitTag uint16) ([]ExitNote, error) {
	var raw []struct {
		NoteID       string `json:"note_id"`
		ZcashAddress string `json:"zcash_address"`
		Amount       uint64 `json:"amount"`
		SinceBlock   uint64 `json:"since_block"`
	}
	payload := map[string]interface{}{"account_id": bridgeAccount, "tag": exitTag}
	if err := c.post(ctx, "/notes/consumable", payload, &raw); err != nil {
		return nil, err
	}

	notes := make([]ExitNote, 0, len(raw))
	for _, r := range raw {
		notes = append(notes, ExitNote{
			NoteID:          r.NoteID,
			ZcashAddress:    r.ZcashAddress,
			AmountBase:      r.Amount,
			ConsumableSince: r.SinceBlock,
		})
	}
	return notes, nil
}

// ConsumeNote consumes noteID (a plain P2ID exit note addressed to the
// bridge account) into bridgeAccount's vault. Held under consumeMu for
// the whole build-and-submit round trip since the account's nonce
// advances by one per consume.
func (c *MidenClient) ConsumeNote(ctx context.Context, bridgeAccount, noteID string) error {
	c.consumeMu.Lock()
	defer c.consumeMu.Unlock()

	payload := map[string]interface{}{
		"account_id": bridgeAccount,
		"note_id":    noteID,
	}
	var result struct {
		Accepted bool `json:"accepted"`
	}
	if err := c.post(ctx, "/notes/consume", payload, &result); err != nil {
		return err
	}
	if !result.Accepted {
		return fmt.Errorf("miden node rejected consume of note %s", noteID)
	}
	return nil
}

// GetVaultBalance returns the bridge account's current balance of
// faucetID's asset, the read the pool-balance endpoint exposes.
func (c *MidenClient) GetVaultBalance(ctx context.Context, bridgeAccount, faucetID string) (uint64, error) {
	var result struct {
		Balance uint64 `json:"balance"`
	}
	payload := map[string]interface{}{"account_id": bridgeAccount, "faucet_id": faucetID}
	if err := c.post(ctx, "/account/vault", payload, &result); err != nil {
		return 0, err
	}
	return result.Balance, nil
}

// AccountBalance is the /account/balance facade read: a user's holding
// of faucetID's wrapped asset, same vault read as GetVaultBalance but
// against an arbitrary account rather than the bridge's own.
func (c *MidenClient) AccountBalance(ctx context.Context, accountID, faucetID string) (uint64, error) {
	return c.GetVaultBalance(ctx, accountID, faucetID)
}

// CreateAccount provisions a new rollup account server-side, for the
// optional server-custodied onboarding path the facade exposes; the
// primary flow keeps keys in the browser's own rollup store.
func (c *MidenClient) CreateAccount(ctx context.Context) (accountIDHex string, err error) {
	var result struct {
		AccountID string `json:"account_id"`
	}
	if err := c.post(ctx, "/account/create", struct{}{}, &result); err != nil {
		return "", err
	}
	return result.AccountID, nil
}

// ConsumeP2IDHRequest describes a claim-mode consumption of a hash-locked
// deposit note: the caller supplies the secret directly instead of
// relying on the browser's own rollup client.
type ConsumeP2IDHRequest struct {
	AccountID string
	Secret    [32]byte
	FaucetID  string
	AmountBase uint64
}

// ConsumeP2IDH claims a P2IDH deposit note on behalf of an account that
// has handed its secret to the facade, the "claim-mode fallback" path.
// Held under consumeMu like ConsumeNote since it also advances an
// account's nonce by one.
func (c *MidenClient) ConsumeP2IDH(ctx context.Context, req ConsumeP2IDHRequest) (txID, noteID string, err error) {
	c.consumeMu.Lock()
	defer c.consumeMu.Unlock()

	payload := map[string]interface{}{
		"account_id": req.AccountID,
		"secret":     hex.EncodeToString(req.Secret[:]),
		"faucet_id":  req.FaucetID,
		"amount":     req.AmountBase,
	}
	var result struct {
		TxID   string `json:"tx_id"`
		NoteID string `json:"note_id"`
	}
	if err := c.post(ctx, "/notes/consume-p2idh", payload, &result); err != nil {
		return "", "", err
	}
	return result.TxID, result.NoteID, nil
}

// CreateExitTransfer submits a burn/transfer from accountID to the
// bridge account tagged EXIT_TAG, the server-custodied counterpart of a
// browser-initiated exit; the Miden relayer later observes and consumes
// it like any other exit note.
func (c *MidenClient) CreateExitTransfer(ctx context.Context, accountID, bridgeAccount string, exitTag uint16, zcashAddress string, amountBase uint64) (string, error) {
	payload := map[string]interface{}{
		"account_id":     accountID,
		"to_account_id":  bridgeAccount,
		"tag":            exitTag,
		"zcash_address":  zcashAddress,
		"amount":         amountBase,
	}
	var result struct {
		TxID string `json:"tx_id"`
	}
	if err := c.post(ctx, "/notes/exit", payload, &result); err != nil {
		return "", err
	}
	return result.TxID, nil
}
