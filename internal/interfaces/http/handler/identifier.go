package handler

import (
	"context"

	listingapp "github.com/erp/feedsync/internal/application/listing"
	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/erp/feedsync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IdentifierService looks up and stocks the product identifier pool
type IdentifierService interface {
	Lookup(ctx context.Context, itemID uuid.UUID) (*listing.IdentifierAssignment, error)
	Available(ctx context.Context) (int64, error)
	Import(ctx context.Context, identifiers []string) (*listingapp.ImportResult, error)
}

// IdentifierHandler serves /identifiers
type IdentifierHandler struct {
	BaseHandler
	pool IdentifierService
}

// NewIdentifierHandler creates a new IdentifierHandler
func NewIdentifierHandler(pool IdentifierService) *IdentifierHandler {
	return &IdentifierHandler{pool: pool}
}

// RegisterRoutes implements router.RouteRegistrar
func (h *IdentifierHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/identifiers")
	g.GET("/stats", h.Stats)
	g.POST("", h.Import)
	g.GET("/:item_id", h.Lookup)
}

// Lookup returns the identifier assigned to an item.
// GET /identifiers/:item_id
func (h *IdentifierHandler) Lookup(c *gin.Context) {
	itemID, ok := h.parseUUIDParam(c, "item_id")
	if !ok {
		return
	}
	assignment, err := h.pool.Lookup(c.Request.Context(), itemID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, assignment)
}

// Stats reports how many identifiers are still unassigned.
// GET /identifiers/stats
func (h *IdentifierHandler) Stats(c *gin.Context) {
	n, err := h.pool.Available(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, PoolStatsResponse{Available: n})
}

// Import adds identifiers to the pool. Invalid and duplicate codes are skipped
// and reported back.
// POST /identifiers
func (h *IdentifierHandler) Import(c *gin.Context) {
	var req ImportIdentifiersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	result, err := h.pool.Import(c.Request.Context(), req.Identifiers)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, result)
}
