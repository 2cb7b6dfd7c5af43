package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/auth"
	"github.com/MarcoPoloResearchLab/compass/internal/consent"
	"github.com/MarcoPoloResearchLab/compass/internal/digest"
	"github.com/MarcoPoloResearchLab/compass/internal/predictions"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "compass_user_id"

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingPredictions    = errors.New("prediction service dependency required")
	errMissingDigests        = errors.New("digest composer dependency required")
	errMissingConsents       = errors.New("consent service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type PredictionService interface {
	Run(ctx context.Context, userID wellness.UserID) (predictions.Outcome, error)
	History(ctx context.Context, userID wellness.UserID, limit int) ([]predictions.Snapshot, []predictions.Scenario, error)
}

type DigestComposer interface {
	Compose(ctx context.Context, request digest.Request) (digest.Payload, error)
}

type ConsentService interface {
	UpdateSharedFields(ctx context.Context, userID, partnerID wellness.UserID, fields []string) (consent.Share, error)
	Revoke(ctx context.Context, userID, partnerID wellness.UserID) (consent.Share, error)
}

type Dependencies struct {
	Tokens         TokenValidator
	Predictions    PredictionService
	Digests        DigestComposer
	Consents       ConsentService
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Predictions == nil {
		return nil, errMissingPredictions
	}
	if deps.Digests == nil {
		return nil, errMissingDigests
	}
	if deps.Consents == nil {
		return nil, errMissingConsents
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		tokens:      deps.Tokens,
		predictions: deps.Predictions,
		digests:     deps.Digests,
		consents:    deps.Consents,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/predictions/run", handler.handleRunPrediction)
	protected.GET("/predictions", handler.handlePredictionHistory)
	protected.POST("/digests/preview", handler.handleDigest(digest.ModePreview))
	protected.POST("/digests/send", handler.handleDigest(digest.ModeSend))
	protected.PUT("/consents/:partner_id/fields", handler.handleUpdateSharedFields)
	protected.POST("/consents/:partner_id/revoke", handler.handleRevokeConsent)

	return router, nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	tokens      TokenValidator
	predictions PredictionService
	digests     DigestComposer
	consents    ConsentService
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleRunPrediction(c *gin.Context) {
	userID := wellness.UserID(c.GetString(userIDContextKey))

	outcome, err := h.predictions.Run(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, "prediction run failed", err)
		return
	}

	c.JSON(http.StatusOK, newPredictionRunPayload(outcome))
}

func (h *httpHandler) handlePredictionHistory(c *gin.Context) {
	userID := wellness.UserID(c.GetString(userIDContextKey))

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	snapshots, scenarios, err := h.predictions.History(c.Request.Context(), userID, limit)
	if err != nil {
		h.writeError(c, "prediction history failed", err)
		return
	}

	c.JSON(http.StatusOK, newHistoryPayload(snapshots, scenarios))
}

type digestRequestPayload struct {
	PartnerID string   `json:"partner_id"`
	Fields    []string `json:"fields"`
}

func (h *httpHandler) handleDigest(mode digest.Mode) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(userIDContextKey)

		var request digestRequestPayload
		if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.PartnerID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}

		payload, err := h.digests.Compose(c.Request.Context(), digest.Request{
			UserID:        wellness.UserID(userID),
			PartnerID:     wellness.UserID(strings.TrimSpace(request.PartnerID)),
			AllowedFields: request.Fields,
			Mode:          mode,
			ActorID:       userID,
		})
		if err != nil {
			h.writeError(c, "digest compose failed", err)
			return
		}

		c.JSON(http.StatusOK, payload)
	}
}

type sharedFieldsPayload struct {
	Fields []string `json:"fields"`
}

func (h *httpHandler) handleUpdateSharedFields(c *gin.Context) {
	userID := wellness.UserID(c.GetString(userIDContextKey))
	partnerID := wellness.UserID(strings.TrimSpace(c.Param("partner_id")))

	var request sharedFieldsPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Fields == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	share, err := h.consents.UpdateSharedFields(c.Request.Context(), userID, partnerID, request.Fields)
	if err != nil {
		h.writeError(c, "shared fields update failed", err)
		return
	}

	c.JSON(http.StatusOK, newSharePayload(share))
}

func (h *httpHandler) handleRevokeConsent(c *gin.Context) {
	userID := wellness.UserID(c.GetString(userIDContextKey))
	partnerID := wellness.UserID(strings.TrimSpace(c.Param("partner_id")))

	share, err := h.consents.Revoke(c.Request.Context(), userID, partnerID)
	if err != nil {
		h.writeError(c, "consent revoke failed", err)
		return
	}

	c.JSON(http.StatusOK, newSharePayload(share))
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// writeError maps the error taxonomy onto HTTP statuses and reports the stable code.
func (h *httpHandler) writeError(c *gin.Context, message string, err error) {
	status := statusForError(err)
	code := wellness.ErrorCode(err)
	if code == "" {
		code = "internal_error"
	}

	fields := []zap.Field{zap.String("code", code), zap.Int("status", status), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, fields...)
	} else {
		h.logger.Info(message, fields...)
	}

	c.JSON(status, gin.H{"error": code})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, wellness.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, wellness.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, wellness.ErrConsent):
		return http.StatusForbidden
	case errors.Is(err, wellness.ErrDeliveryFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
