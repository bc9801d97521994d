package escrow

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/safetransfer/internal/address"
	"github.com/mbd888/safetransfer/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up escrow routes. Mutations are authorized by the
// signature in the body, so no route needs a session.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escrows/derive", h.DeriveEscrow)
	r.GET("/escrows/:address", validation.AddressParamMiddleware(), h.GetEscrow)
	r.POST("/escrows", h.InitializeEscrow)
	r.POST("/escrows/complete", h.CompleteEscrow)
	r.POST("/escrows/pull-back", h.PullBackEscrow)
}

// InitializeEscrow handles POST /v1/escrows
func (h *Handler) InitializeEscrow(c *gin.Context) {
	var req InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.service.Initialize(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"escrow": res})
}

// CompleteEscrow handles POST /v1/escrows/complete
func (h *Handler) CompleteEscrow(c *gin.Context) {
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.service.Complete(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": res})
}

// PullBackEscrow handles POST /v1/escrows/pull-back
func (h *Handler) PullBackEscrow(c *gin.Context) {
	var req PullBackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.service.PullBack(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": res})
}

// GetEscrow handles GET /v1/escrows/:address
func (h *Handler) GetEscrow(c *gin.Context) {
	addr, _ := address.Parse(c.Param("address")) // checked by AddressParamMiddleware

	rec, err := h.service.Get(c.Request.Context(), addr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": Result{Record: rec, RecordAddress: addr}})
}

// DeriveEscrow handles GET /v1/escrows/derive?sender=&receiver=&asset=&instanceId=
func (h *Handler) DeriveEscrow(c *gin.Context) {
	sender, receiver, asset, id := c.Query("sender"), c.Query("receiver"), c.Query("asset"), c.Query("instanceId")
	if errs := validation.Validate(
		validation.Required("sender", sender),
		validation.ValidAddress("sender", sender),
		validation.Required("receiver", receiver),
		validation.ValidAddress("receiver", receiver),
		validation.Required("asset", asset),
		validation.ValidAddress("asset", asset),
		validation.Required("instanceId", id),
		validation.ValidUint64("instanceId", id),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	t := Tuple{
		Sender:   address.MustParse(sender),
		Receiver: address.MustParse(receiver),
		Asset:    address.MustParse(asset),
	}
	t.InstanceID, _ = strconv.ParseUint(id, 10, 64)

	addrs, err := h.service.Derive(t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"program":   h.service.Program(),
		"addresses": addrs,
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Invalid request body: " + err.Error(),
	})
}

// StatusCode maps an error kind to its HTTP status.
func StatusCode(kind string) int {
	switch kind {
	case "InvalidAmount", "AddressMismatch":
		return http.StatusBadRequest
	case "Unauthorized":
		return http.StatusForbidden
	case "AccountNotFound":
		return http.StatusNotFound
	case "DuplicateInstance", "WrongStage":
		return http.StatusConflict
	case "InsufficientFunds":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	kind := Kind(err)
	status := StatusCode(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": kind, "message": msg})
}
