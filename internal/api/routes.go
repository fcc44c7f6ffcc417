// Package api exposes the HTTP ingress (spec §4.9): intent submission,
// the matchmaker's authorization callback, a liveness probe, and an
// admin dashboard for queue inspection.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/rawblock/memswap-solver/internal/codec"
	"github.com/rawblock/memswap-solver/internal/config"
	"github.com/rawblock/memswap-solver/internal/queue"
	"github.com/rawblock/memswap-solver/pkg/models"
)

// getAllowedOrigin reads ALLOWED_ORIGINS the way the teacher's CORS
// middleware does; empty means allow any origin (dev default).
func getAllowedOrigin() string {
	return os.Getenv("ALLOWED_ORIGINS")
}

// APIHandler wires the HTTP layer to the shared queue store and process
// configuration. It does not run solve logic itself — every route either
// enqueues a job for a worker pool to pick up or reads shared state.
type APIHandler struct {
	store *queue.Store
	cfg   *config.Config
	wsHub *Hub
}

func NewAPIHandler(store *queue.Store, cfg *config.Config, wsHub *Hub) *APIHandler {
	return &APIHandler{store: store, cfg: cfg, wsHub: wsHub}
}

// SetupRouter builds the gin engine: a public group (liveness, intent
// submission, the matchmaker callback, the websocket feed) and an admin
// group gated by bearer auth and a tighter rate limit.
func (h *APIHandler) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	limiter := NewRateLimiter(120, 20)

	public := r.Group("/")
	public.Use(limiter.Middleware())
	{
		public.GET("/lives", h.handleLives)
		public.POST("/erc20/intents", h.handleIntent(models.ProtocolERC20))
		public.POST("/erc721/intents", h.handleIntent(models.ProtocolERC721))
		public.POST("/erc20/authorizations", h.handleAuthorization(models.ProtocolERC20))
		public.POST("/erc721/authorizations", h.handleAuthorization(models.ProtocolERC721))
		public.GET("/stream", func(c *gin.Context) { h.wsHub.Subscribe(c) })
	}

	admin := r.Group("/admin")
	admin.Use(AuthMiddleware())
	admin.Use(NewRateLimiter(60, 10).Middleware())
	{
		admin.GET("/queues", h.handleAdminQueues)
		admin.GET("/status/:intentHash", h.handleAdminStatus)
	}

	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := "*"
		if o := getAllowedOrigin(); o != "" {
			origin = o
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *APIHandler) handleLives(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "chainId": h.cfg.ChainID})
}

// intentRequest is the body of POST /{protocol}/intents.
type intentRequest struct {
	Intent models.Intent `json:"intent"`
}

func (h *APIHandler) handleIntent(protocol models.Protocol) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req intentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		job := models.Job{Intent: req.Intent, Protocol: protocol}
		if err := h.enqueueJob(c.Request.Context(), protocol, job); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	}
}

// authorizationRequest is the body of POST /{protocol}/authorizations —
// the matchmaker's callback after it picks a solution. Exactly one of
// UUID or Intent must be set; UUID and ApprovalTxOrTxHash are mutually
// exclusive (spec §4.9).
type authorizationRequest struct {
	UUID               *string              `json:"uuid"`
	Intent             *models.Intent       `json:"intent"`
	ApprovalTxOrTxHash string               `json:"approvalTxOrTxHash"`
	Authorization      models.Authorization `json:"authorization"`
}

// validateAuthorizationRequest enforces spec §4.9's body shape: exactly
// one of uuid or intent, and uuid never alongside approvalTxOrTxHash.
func validateAuthorizationRequest(req authorizationRequest) (hasUUID bool, err error) {
	hasUUID = req.UUID != nil && *req.UUID != ""
	hasIntent := req.Intent != nil
	if hasUUID == hasIntent {
		return false, errExactlyOneOf
	}
	if hasUUID && req.ApprovalTxOrTxHash != "" {
		return false, errUUIDWithApproval
	}
	return hasUUID, nil
}

var (
	errExactlyOneOf     = fmt.Errorf("body must contain exactly one of uuid or intent")
	errUUIDWithApproval = fmt.Errorf("uuid cannot appear with approvalTxOrTxHash")
)

func (h *APIHandler) handleAuthorization(protocol models.Protocol) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req authorizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		hasUUID, err := validateAuthorizationRequest(req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		auth := req.Authorization

		var job models.Job
		if hasUUID {
			var cached models.CachedSolution
			found, err := h.store.LoadSolution(ctx, *req.UUID, &cached)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if !found {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown or expired uuid"})
				return
			}
			job = models.Job{
				Intent:             cached.Intent,
				Protocol:           cached.Protocol,
				ApprovalTxOrTxHash: cached.ApprovalTxOrTxHash,
				ExistingSolution:   cached.Solution,
				Authorization:      &auth,
			}
		} else {
			job = models.Job{
				Intent:             *req.Intent,
				Protocol:           protocol,
				ApprovalTxOrTxHash: req.ApprovalTxOrTxHash,
				Authorization:      &auth,
			}
		}

		if err := h.enqueueJob(ctx, job.Protocol, job); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	}
}

func (h *APIHandler) settlementFor(protocol models.Protocol) common.Address {
	if protocol == models.ProtocolERC721 {
		return h.cfg.Addresses.Settlement721
	}
	return h.cfg.Addresses.Settlement20
}

func (h *APIHandler) enqueueJob(ctx context.Context, protocol models.Protocol, job models.Job) error {
	hash, err := codec.HashIntent(&job.Intent, protocol, h.cfg.ChainID, h.settlementFor(protocol))
	if err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = h.store.Enqueue(ctx, queue.QueueFor(protocol), job.DedupKey(hash), payload)
	return err
}

func (h *APIHandler) handleAdminQueues(c *gin.Context) {
	ctx := c.Request.Context()
	names := []string{queue.ERC20Queue, queue.ERC721Queue}
	depths := gin.H{}
	for _, name := range names {
		n, err := h.store.QueueLength(ctx, name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		depths[name] = n
	}
	c.JSON(http.StatusOK, gin.H{"queues": depths, "checkedAt": time.Now().UTC()})
}

func (h *APIHandler) handleAdminStatus(c *gin.Context) {
	var entry models.StatusEntry
	found, err := h.store.GetStatus(c.Request.Context(), c.Param("intentHash"), &entry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no status recorded for this intent"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
