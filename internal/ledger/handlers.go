package ledger

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/safetransfer/internal/address"
	"github.com/mbd888/safetransfer/internal/validation"
)

// Handler serves read access to ledger accounts and, when enabled, a
// development faucet.
type Handler struct {
	ledger *Ledger
	faucet bool
}

// NewHandler creates a ledger handler. Faucet routes are registered only
// when faucet is true.
func NewHandler(l *Ledger, faucet bool) *Handler {
	return &Handler{ledger: l, faucet: faucet}
}

// RegisterRoutes sets up account routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	accounts := r.Group("/accounts/:address", validation.AddressParamMiddleware())
	accounts.GET("", h.GetAccount)
	accounts.GET("/tokens/:asset", h.GetTokenBalance)

	if h.faucet {
		r.POST("/dev/airdrop", h.Airdrop)
		r.POST("/dev/mint", h.Mint)
	}
}

// GetAccount handles GET /v1/accounts/:address
func (h *Handler) GetAccount(c *gin.Context) {
	addr, _ := address.Parse(c.Param("address"))

	acct, err := h.ledger.Account(c.Request.Context(), addr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// GetTokenBalance handles GET /v1/accounts/:address/tokens/:asset
func (h *Handler) GetTokenBalance(c *gin.Context) {
	owner, _ := address.Parse(c.Param("address"))
	asset, err := address.Parse(c.Param("asset"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "asset must be a 32-byte address (base58 or 0x hex)",
		})
		return
	}

	bal, err := h.ledger.TokenBalance(c.Request.Context(), owner, asset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

// AirdropRequest credits lamports to a wallet.
type AirdropRequest struct {
	Owner    address.Address `json:"owner" binding:"required"`
	Lamports uint64          `json:"lamports,string" binding:"required"`
}

// Airdrop handles POST /v1/dev/airdrop
func (h *Handler) Airdrop(c *gin.Context) {
	var req AirdropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.ledger.Airdrop(c.Request.Context(), req.Owner, req.Lamports); err != nil {
		writeError(c, err)
		return
	}
	acct, err := h.ledger.Account(c.Request.Context(), req.Owner)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// MintRequest credits tokens to an owner's associated token account.
type MintRequest struct {
	Owner  address.Address `json:"owner" binding:"required"`
	Asset  address.Address `json:"asset" binding:"required"`
	Amount uint64          `json:"amount,string" binding:"required"`
}

// Mint handles POST /v1/dev/mint
func (h *Handler) Mint(c *gin.Context) {
	var req MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := h.ledger.MintTo(c.Request.Context(), req.Owner, req.Asset, req.Amount); err != nil {
		writeError(c, err)
		return
	}
	bal, err := h.ledger.TokenBalance(c.Request.Context(), req.Owner, req.Asset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Invalid request body: " + err.Error(),
	})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrOverflow):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
	case errors.Is(err, ErrWrongAccountKind):
		c.JSON(http.StatusConflict, gin.H{"error": "wrong_account_kind", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal error"})
	}
}
