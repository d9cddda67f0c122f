package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rl1809/stock-count/internal/core/domain"
	"github.com/rl1809/stock-count/internal/core/service"
)

// RecordLister reads committed count history.
type RecordLister interface {
	CountRecords(ctx context.Context, itemID string, limit uint) ([]domain.CountRecord, error)
}

type HTTPHandler struct {
	countService *service.CountService
	records      RecordLister
}

func NewHTTPHandler(countService *service.CountService, records RecordLister) *HTTPHandler {
	return &HTTPHandler{countService: countService, records: records}
}

func (h *HTTPHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.HealthCheck)

	api := router.Group("/api")
	api.POST("/counts", h.SubmitCount)
	api.GET("/items/:id/counts", h.ListCounts)
	api.PUT("/items/:id", h.SaveItem)
	api.DELETE("/items/:id", h.DeactivateItem)
	api.POST("/containers", h.RegisterContainer)
	api.POST("/containers/:id/reweigh", h.Reweigh)
	api.POST("/kegs/:item_id/tap", h.TapKeg)
	api.POST("/batches/:ref/start", h.StartBatch)
}

func (h *HTTPHandler) SubmitCount(c *gin.Context) {
	var req CountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, CountResponse{Message: "invalid request body", Anomalies: []domain.Anomaly{}})
		return
	}

	status, resp := submit(c.Request.Context(), h.countService, req)
	c.JSON(status, resp)
}

func (h *HTTPHandler) ListCounts(c *gin.Context) {
	limit := uint(50)
	if v := c.Query("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = uint(n)
	}

	records, err := h.records.CountRecords(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to load count history", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *HTTPHandler) SaveItem(c *gin.Context) {
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	kind, err := domain.ParseWorkflowKind(req.Workflow)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}

	item, err := h.countService.SaveItem(c.Request.Context(), domain.InventoryItem{
		ID:       c.Param("id"),
		Name:     req.Name,
		Unit:     req.Unit,
		Workflow: kind,
		ParLow:   req.ParLow,
		ParHigh:  req.ParHigh,
		Params:   req.Params,
	})
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *HTTPHandler) DeactivateItem(c *gin.Context) {
	if err := h.countService.DeactivateItem(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) RegisterContainer(c *gin.Context) {
	var req ContainerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	container, err := h.countService.RegisterContainer(c.Request.Context(), domain.ContainerInstance{
		ID:                        req.ID,
		Barcode:                   req.Barcode,
		TareWeight:                req.TareWeight,
		VerificationFrequencyDays: req.VerificationFrequencyDays,
	})
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, container)
}

func (h *HTTPHandler) Reweigh(c *gin.Context) {
	var req ReweighRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	container, err := h.countService.Reweigh(c.Request.Context(), c.Param("id"), *req.TareWeight)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, container)
}

func (h *HTTPHandler) TapKeg(c *gin.Context) {
	var req TapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	keg, err := h.countService.TapKeg(c.Request.Context(), c.Param("item_id"), req.TapDate)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, keg)
}

func (h *HTTPHandler) StartBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	batch, err := h.countService.StartBatch(c.Request.Context(), c.Param("ref"), req.ItemID, req.BatchDate)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
