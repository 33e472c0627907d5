package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"drop-service/internal/models"
	"drop-service/internal/service"
	"drop-service/internal/store"
	"drop-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Purchaser runs one purchase attempt
type Purchaser interface {
	Purchase(ctx context.Context, productID, buyerWallet string) (*service.PurchaseResult, error)
}

// IdempotencyGuard rejects replayed purchase requests
type IdempotencyGuard interface {
	SeenIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ForgetIdempotencyKey(ctx context.Context, key string) error
}

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	purchases      Purchaser
	records        store.RecordStore
	idempotency    IdempotencyGuard
	idempotencyTTL time.Duration
	checks         map[string]ReadinessCheck
	logger         *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(purchases Purchaser, records store.RecordStore) *Handler {
	return &Handler{
		purchases: purchases,
		records:   records,
		checks:    make(map[string]ReadinessCheck),
		logger:    util.GetLogger(),
	}
}

// WithIdempotency enables the Idempotency-Key header on purchases
func (h *Handler) WithIdempotency(guard IdempotencyGuard, ttl time.Duration) *Handler {
	h.idempotency = guard
	h.idempotencyTTL = ttl
	return h
}

// WithReadinessCheck adds a dependency to /ready
func (h *Handler) WithReadinessCheck(name string, check ReadinessCheck) *Handler {
	h.checks[name] = check
	return h
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/products", h.listProducts)
		api.GET("/products/:id", h.getProduct)
		api.POST("/products/:id/purchase", h.purchase)
		api.GET("/transactions/:id", h.getTransaction)
		api.GET("/nfts/:id", h.getNFT)
		api.GET("/verify/:barcode", h.verify)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck runs every registered dependency check
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type purchaseRequest struct {
	BuyerWallet string `json:"buyerWallet"`
}

// purchase handles a single-unit purchase
func (h *Handler) purchase(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if h.idempotency == nil {
		key = ""
	}
	if key != "" {
		seen, err := h.idempotency.SeenIdempotencyKey(ctx, key, h.idempotencyTTL)
		if err != nil {
			h.logger.Warn("Idempotency check failed, continuing", zap.Error(err))
			key = ""
		} else if seen {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Duplicate request",
			})
			return
		}
	}

	res, err := h.purchases.Purchase(ctx, c.Param("id"), req.BuyerWallet)
	if err != nil {
		status := h.writePurchaseError(c, err)
		// nothing was reserved, so the client may retry with the same key
		if key != "" && status < http.StatusInternalServerError {
			if ferr := h.idempotency.ForgetIdempotencyKey(context.WithoutCancel(ctx), key); ferr != nil {
				h.logger.Warn("Failed to release idempotency key", zap.Error(ferr))
			}
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"transaction":     res.Transaction,
		"nft":             res.NFT,
		"uniqueBarcodeId": res.UniqueBarcodeID,
		"purchaseNumber":  res.PurchaseNumber,
	})
}

func (h *Handler) writePurchaseError(c *gin.Context, err error) int {
	var mintErr *service.MintFailedError

	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrSoldOut):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return http.StatusNotFound
	case errors.As(err, &mintErr):
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   mintErr.Reason,
		})
		return http.StatusInternalServerError
	default:
		h.logger.Error("Purchase failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Purchase failed",
		})
		return http.StatusInternalServerError
	}
}

type productView struct {
	models.Product
	Available bool `json:"available"`
	Remaining int  `json:"remaining"`
}

func newProductView(p models.Product) productView {
	return productView{Product: p, Available: p.Available(), Remaining: p.Remaining()}
}

// listProducts handles the catalogue listing
func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.records.GetProducts(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list products", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list products"})
		return
	}

	views := make([]productView, 0, len(products))
	for _, p := range products {
		views = append(views, newProductView(p))
	}
	c.JSON(http.StatusOK, gin.H{"products": views})
}

// getProduct handles get product by ID
func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.records.GetProductByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeLookupError(c, "Product", err)
		return
	}
	c.JSON(http.StatusOK, newProductView(*product))
}

// getTransaction handles get transaction by ID
func (h *Handler) getTransaction(c *gin.Context) {
	txn, err := h.records.GetTransactionByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeLookupError(c, "Transaction", err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// getNFT handles get NFT by ID
func (h *Handler) getNFT(c *gin.Context) {
	nft, err := h.records.GetNFTByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeLookupError(c, "NFT", err)
		return
	}
	c.JSON(http.StatusOK, nft)
}

// verify resolves a printed barcode to its purchase
func (h *Handler) verify(c *gin.Context) {
	ctx := c.Request.Context()

	txn, err := h.records.GetTransactionByBarcode(ctx, c.Param("barcode"))
	if err != nil {
		h.writeLookupError(c, "Barcode", err)
		return
	}

	product, err := h.records.GetProductByID(ctx, txn.ProductID)
	if err != nil {
		h.writeLookupError(c, "Product", err)
		return
	}

	resp := gin.H{
		"authentic":      txn.Status == models.TransactionStatusCompleted,
		"transaction":    txn,
		"product":        product,
		"purchaseNumber": txn.PurchaseNumber,
	}

	if txn.NFTID != "" {
		nft, err := h.records.GetNFTByID(ctx, txn.NFTID)
		switch {
		case err == nil:
			resp["nft"] = nft
		case !errors.Is(err, store.ErrNotFound):
			h.writeLookupError(c, "NFT", err)
			return
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) writeLookupError(c *gin.Context, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	h.logger.Error("Lookup failed", zap.String("resource", what), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load " + strings.ToLower(what)})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
