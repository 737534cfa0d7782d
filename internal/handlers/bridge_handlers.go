package handlers

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bridge-backend/internal/bridge"
	"bridge-backend/internal/bridge/recipient"
	"bridge-backend/internal/clients"
	"bridge-backend/internal/models"
	"bridge-backend/internal/repository"
)

// BridgeHandler serves the facade surface the UI consumes: recipient
// hash derivation, balance reads, withdrawal/note submission, and
// server-custodied account onboarding. Its only Bridge Store writes are
// the Open deposit intent DepositHash upserts and the admin quarantine
// requeue; withdrawal rows, and intents for hashes it never issued, are
// back-created by the relayers from what they observe on-chain.
type BridgeHandler struct {
	zcash *clients.ZcashClient
	miden *clients.MidenClient

	intents repository.DepositIntentRepository

	poolAddr        string
	bridgeAccountID string
	defaultFaucetID string
	exitTag         uint16

	logger *logrus.Logger
}

func NewBridgeHandler(
	zcash *clients.ZcashClient,
	miden *clients.MidenClient,
	intents repository.DepositIntentRepository,
	poolAddr, bridgeAccountID, defaultFaucetID string,
	exitTag uint16,
	logger *logrus.Logger,
) *BridgeHandler {
	return &BridgeHandler{
		zcash:           zcash,
		miden:           miden,
		intents:         intents,
		poolAddr:        poolAddr,
		bridgeAccountID: bridgeAccountID,
		defaultFaucetID: defaultFaucetID,
		exitTag:         exitTag,
		logger:          logger,
	}
}

// statusFor maps a bridge sentinel error (wrapped or not) to the HTTP
// status the facade reports it under: policy/crypto errors are client
// mistakes (400), an upstream rate limit passes through as 429, and
// everything else is the bridge's own trouble (500).
func statusFor(err error) int {
	switch {
	case errors.Is(err, bridge.ErrMalformedAccountID), errors.Is(err, bridge.ErrMalformedSecret),
		errors.Is(err, bridge.ErrDerivationMismatch), errors.Is(err, bridge.ErrMalformedMemo),
		errors.Is(err, bridge.ErrUnexpectedAmount):
		return http.StatusBadRequest
	case errors.Is(err, bridge.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func decodeSecret(s string) ([recipient.SecretLen]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	var out [recipient.SecretLen]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != recipient.SecretLen {
		return out, bridge.ErrMalformedSecret
	}
	copy(out[:], b)
	return out, nil
}

// DepositHash implements GET /deposit/hash?account_id=&secret=. It
// upserts an Open deposit intent for the returned hash (idempotent on the
// hash); the secret itself is never stored.
func (h *BridgeHandler) DepositHash(c *gin.Context) {
	accountID := c.Query("account_id")
	secretParam := c.Query("secret")
	if accountID == "" || secretParam == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "account_id and secret are required"})
		return
	}

	secret, err := decodeSecret(secretParam)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	hash, err := recipient.Derive(accountID, secret)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	hashHex := hex.EncodeToString(hash[:])
	if err := h.intents.UpsertIntent(c.Request.Context(), models.NewDepositIntent(accountID, hashHex)); err != nil {
		h.logger.WithError(err).Warn("deposit intent upsert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "recipient_hash": hashHex})
}

type accountBalanceRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	FaucetID  string `json:"faucet_id"`
}

// AccountBalance implements POST /account/balance.
func (h *BridgeHandler) AccountBalance(c *gin.Context) {
	var req accountBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	faucetID := req.FaucetID
	if faucetID == "" {
		faucetID = h.defaultFaucetID
	}

	balance, err := h.miden.AccountBalance(c.Request.Context(), req.AccountID, faucetID)
	if err != nil {
		h.logger.WithError(err).Warn("account balance read failed")
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "balance": strconv.FormatUint(balance, 10)})
}

type poolBalanceRequest struct {
	FaucetID string `json:"faucet_id"`
}

// PoolBalance implements POST /pool/balance.
func (h *BridgeHandler) PoolBalance(c *gin.Context) {
	var req poolBalanceRequest
	_ = c.ShouldBindJSON(&req)
	faucetID := req.FaucetID
	if faucetID == "" {
		faucetID = h.defaultFaucetID
	}

	balance, err := h.miden.GetVaultBalance(c.Request.Context(), h.bridgeAccountID, faucetID)
	if err != nil {
		h.logger.WithError(err).Warn("pool balance read failed")
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "balance": strconv.FormatUint(balance, 10)})
}

type withdrawalCreateRequest struct {
	AccountID    string `json:"account_id" binding:"required"`
	ZcashAddress string `json:"zcash_address" binding:"required"`
	Amount       uint64 `json:"amount" binding:"required"`
}

// WithdrawalCreate implements POST /withdrawal/create. It submits the
// exit transfer on behalf of a server-custodied account; the Withdrawal
// row itself is back-created by the Miden relayer once it observes the
// resulting exit note, same as a browser-submitted exit would be.
func (h *BridgeHandler) WithdrawalCreate(c *gin.Context) {
	var req withdrawalCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	txID, err := h.miden.CreateExitTransfer(c.Request.Context(), req.AccountID, h.bridgeAccountID, h.exitTag, req.ZcashAddress, req.Amount)
	if err != nil {
		h.logger.WithError(err).Warn("withdrawal create failed")
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transaction_id": txID})
}

type noteConsumeRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	Secret    string `json:"secret" binding:"required"`
	FaucetID  string `json:"faucet_id"`
	Amount    uint64 `json:"amount" binding:"required"`
}

// NoteConsume implements POST /note/consume, the claim-mode fallback for
// a depositor who has handed the facade their secret directly instead of
// consuming the P2IDH note from the browser's own rollup client.
func (h *BridgeHandler) NoteConsume(c *gin.Context) {
	var req noteConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	secret, err := decodeSecret(req.Secret)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	faucetID := req.FaucetID
	if faucetID == "" {
		faucetID = h.defaultFaucetID
	}

	txID, noteID, err := h.miden.ConsumeP2IDH(c.Request.Context(), clients.ConsumeP2IDHRequest{
		AccountID:  req.AccountID,
		Secret:     secret,
		FaucetID:   faucetID,
		AmountBase: req.Amount,
	})
	if err != nil {
		h.logger.WithError(err).Warn("note consume failed")
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transaction_id": txID, "note_id": noteID})
}

// AccountCreate implements POST /account/create, optional
// server-custodied onboarding; the primary flow keeps keys in the
// browser's own rollup store.
func (h *BridgeHandler) AccountCreate(c *gin.Context) {
	accountIDHex, err := h.miden.CreateAccount(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Warn("account create failed")
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "account_id": accountIDHex, "account_id_hex": accountIDHex})
}

// AdminListQuarantined implements GET /admin/quarantine.
func (h *BridgeHandler) AdminListQuarantined(c *gin.Context) {
	intents, err := h.intents.FindQuarantined(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "intents": intents})
}

// AdminRetryQuarantined implements POST /admin/quarantine/:id/retry.
func (h *BridgeHandler) AdminRetryQuarantined(c *gin.Context) {
	id := c.Param("id")
	if err := h.intents.RequeueFromQuarantine(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": fmt.Sprintf("requeue failed: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
