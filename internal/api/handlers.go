package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/internal/domain"
	"github.com/tusharbhayani/paradym-wallet/internal/engine"
	"github.com/tusharbhayani/paradym-wallet/internal/presence"
	"github.com/tusharbhayani/paradym-wallet/internal/storage"
	"github.com/tusharbhayani/paradym-wallet/pkg/config"
	"github.com/tusharbhayani/paradym-wallet/pkg/middleware"
)

// Handlers holds the HTTP API handlers
type Handlers struct {
	presence *presence.Service
	store    storage.Store
	engine   *engine.Manager
	limiter  *middleware.PairingRateLimiter
	cfg      *config.Config
	logger   *zap.Logger
}

// NewHandlers creates the API handlers
func NewHandlers(presenceSvc *presence.Service, store storage.Store, engineMgr *engine.Manager, cfg *config.Config, logger *zap.Logger) *Handlers {
	return &Handlers{
		presence: presenceSvc,
		store:    store,
		engine:   engineMgr,
		limiter:  middleware.NewPairingRateLimiter(cfg.RateLimit, logger),
		cfg:      cfg,
		logger:   logger.Named("api"),
	}
}

// Name identifies the provider in server logs
func (h *Handlers) Name() string {
	return "wallet-api"
}

// RegisterRoutes mounts the API on the router
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	rateLimited := middleware.RateLimitMiddleware(h.limiter, func(c *gin.Context) string {
		return c.ClientIP()
	})

	pairing := router.Group("/api/pairing", rateLimited)
	{
		pairing.POST("/begin", h.BeginPairing)
		pairing.POST("/finish", h.FinishPairing)
	}

	verification := router.Group("/api/verification")
	{
		verification.POST("/begin", h.BeginVerification)
		verification.POST("/finish", h.FinishVerification)
	}

	authed := router.Group("/api", middleware.DeviceAuthMiddleware(h.cfg, h.logger))
	{
		authed.GET("/auth/check", h.AuthCheck)
		authed.GET("/device", h.GetDevice)
		authed.GET("/credentials", h.GetAllCredentials)
		authed.GET("/credentials/:id", h.GetCredentialByID)
		authed.DELETE("/credentials/:id", h.DeleteCredential)
	}

	router.GET("/ws", h.WalletSocket)
}

// Status returns the service status
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Status:       "ok",
		Service:      "wallet-backend",
		APIVersion:   CurrentAPIVersion,
		Capabilities: APICapabilities[CurrentAPIVersion],
	})
}

// BeginPairingRequest starts a pairing ceremony
type BeginPairingRequest struct {
	WalletID   string `json:"walletId" binding:"required"`
	DeviceName string `json:"deviceName,omitempty"`
}

// BeginPairing starts the WebAuthn registration ceremony for a new device
func (h *Handlers) BeginPairing(c *gin.Context) {
	var req BeginPairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "walletId is required"})
		return
	}

	resp, err := h.presence.BeginPairing(c.Request.Context(), req.WalletID, req.DeviceName)
	if err != nil {
		h.logger.Error("Failed to begin pairing", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to begin pairing"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// FinishPairingResponse returns the paired device and its token
type FinishPairingResponse struct {
	Device      *domain.Device `json:"device"`
	DeviceToken string         `json:"deviceToken"`
}

// FinishPairing verifies the attestation, creates the device, and mints
// the device token the wallet session handshake requires
func (h *Handlers) FinishPairing(c *gin.Context) {
	var req presence.FinishPairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pairing response"})
		return
	}

	device, err := h.presence.FinishPairing(c.Request.Context(), &req)
	if err != nil {
		h.limiter.RecordFailure(c.ClientIP())
		h.respondPresenceError(c, err, "pairing failed")
		return
	}

	token, err := middleware.MintDeviceToken(h.cfg, device.UUID.String(), device.WalletID)
	if err != nil {
		h.logger.Error("Failed to mint device token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mint device token"})
		return
	}

	c.JSON(http.StatusOK, FinishPairingResponse{Device: device, DeviceToken: token})
}

// BeginVerificationRequest starts a user-presence check
type BeginVerificationRequest struct {
	DeviceID string `json:"deviceId" binding:"required"`
}

// BeginVerification starts the WebAuthn assertion ceremony for a paired
// device
func (h *Handlers) BeginVerification(c *gin.Context) {
	var req BeginVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId is required"})
		return
	}

	resp, err := h.presence.BeginVerification(c.Request.Context(), domain.DeviceIDFromString(req.DeviceID))
	if err != nil {
		h.respondPresenceError(c, err, "failed to begin verification")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// FinishVerificationResponse returns a fresh device token after a passed
// presence check
type FinishVerificationResponse struct {
	Device      *domain.Device `json:"device"`
	DeviceToken string         `json:"deviceToken"`
}

// FinishVerification verifies the assertion and refreshes the device token
func (h *Handlers) FinishVerification(c *gin.Context) {
	var req presence.FinishVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid verification response"})
		return
	}

	device, err := h.presence.FinishVerification(c.Request.Context(), &req)
	if err != nil {
		h.respondPresenceError(c, err, "verification failed")
		return
	}

	token, err := middleware.MintDeviceToken(h.cfg, device.UUID.String(), device.WalletID)
	if err != nil {
		h.logger.Error("Failed to mint device token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mint device token"})
		return
	}

	c.JSON(http.StatusOK, FinishVerificationResponse{Device: device, DeviceToken: token})
}

// AuthCheck confirms the device token is valid
func (h *Handlers) AuthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"deviceId":      c.GetString("device_id"),
		"walletId":      c.GetString("wallet_id"),
	})
}

// GetDevice returns the authenticated device
func (h *Handlers) GetDevice(c *gin.Context) {
	deviceID := domain.DeviceIDFromString(c.GetString("device_id"))
	device, err := h.store.Devices().GetByID(c.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logger.Error("Failed to load device", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load device"})
		return
	}
	c.JSON(http.StatusOK, device)
}

// GetAllCredentials returns the credentials held by the wallet
func (h *Handlers) GetAllCredentials(c *gin.Context) {
	walletID := c.GetString("wallet_id")
	credentials, err := h.store.Credentials().GetAllByWallet(c.Request.Context(), walletID)
	if err != nil {
		h.logger.Error("Failed to list credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list credentials"})
		return
	}
	if credentials == nil {
		credentials = []*domain.StoredCredential{}
	}
	c.JSON(http.StatusOK, gin.H{"credentials": credentials})
}

// GetCredentialByID returns one credential held by the wallet
func (h *Handlers) GetCredentialByID(c *gin.Context) {
	walletID := c.GetString("wallet_id")
	credential, err := h.store.Credentials().GetByID(c.Request.Context(), walletID, c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
			return
		}
		h.logger.Error("Failed to load credential", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load credential"})
		return
	}
	c.JSON(http.StatusOK, credential)
}

// DeleteCredential removes one credential from the wallet
func (h *Handlers) DeleteCredential(c *gin.Context) {
	walletID := c.GetString("wallet_id")
	if err := h.store.Credentials().Delete(c.Request.Context(), walletID, c.Param("id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
			return
		}
		h.logger.Error("Failed to delete credential", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete credential"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// WalletSocket upgrades to the wallet session protocol. Authentication
// happens in the WebSocket handshake message, not here.
func (h *Handlers) WalletSocket(c *gin.Context) {
	h.engine.HandleConnection(c.Writer, c.Request)
}

// respondPresenceError maps presence ceremony failures to HTTP statuses
func (h *Handlers) respondPresenceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, presence.ErrChallengeNotFound),
		errors.Is(err, presence.ErrDeviceNotFound),
		errors.Is(err, presence.ErrCredentialNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, presence.ErrChallengeExpired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, presence.ErrVerificationFailed):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		h.logger.Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
