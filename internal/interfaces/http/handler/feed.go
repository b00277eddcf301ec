package handler

import (
	"context"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/infrastructure/logger"
	"github.com/erp/feedsync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BatchSyncer starts feed batches and reads them back
type BatchSyncer interface {
	Sync(ctx context.Context, itemIDs []uuid.UUID) (*feed.Batch, error)
	Batch(ctx context.Context, id uuid.UUID) (*feed.Batch, error)
}

// BatchReporter reconciles batches into reports
type BatchReporter interface {
	Report(ctx context.Context, batchID uuid.UUID) (*feed.BatchReport, error)
	LatestSnapshot(ctx context.Context, batchID uuid.UUID) (*feed.BatchReport, error)
}

// FeedBatchHandler serves /feed-batches
type FeedBatchHandler struct {
	BaseHandler
	syncer   BatchSyncer
	reporter BatchReporter
}

// NewFeedBatchHandler creates a new FeedBatchHandler
func NewFeedBatchHandler(syncer BatchSyncer, reporter BatchReporter) *FeedBatchHandler {
	return &FeedBatchHandler{syncer: syncer, reporter: reporter}
}

// RegisterRoutes implements router.RouteRegistrar
func (h *FeedBatchHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/feed-batches")
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.GET("/:id/report", h.Report)
}

// Create maps the requested items and enqueues their sub-batches.
// POST /feed-batches
//
// Submission continues in the background, so the response is 202 with the
// batch as built: sub-batches in BUILT state and pre-submission failures.
func (h *FeedBatchHandler) Create(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	batch, err := h.syncer.Sync(c.Request.Context(), req.ids())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	logger.GetGinLogger(c).Info("feed batch accepted",
		zap.String("batch_id", batch.ID.String()),
		zap.Int("sub_batches", len(batch.SubBatches)),
		zap.Int("pre_submission_failures", len(batch.PreSubmissionFailures)),
	)
	h.Accepted(c, toBatchResponse(batch))
}

// Get returns a batch with the current state of its sub-batches.
// GET /feed-batches/:id
func (h *FeedBatchHandler) Get(c *gin.Context) {
	id, ok := h.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	batch, err := h.syncer.Batch(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toBatchResponse(batch))
}

// Report recomputes the batch report from stored sub-batch responses.
// GET /feed-batches/:id/report[?source=snapshot]
//
// source=snapshot returns the last stored report without reconciling.
func (h *FeedBatchHandler) Report(c *gin.Context) {
	id, ok := h.parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var (
		report *feed.BatchReport
		err    error
	)
	switch c.Query("source") {
	case "", "live":
		report, err = h.reporter.Report(c.Request.Context(), id)
	case "snapshot":
		report, err = h.reporter.LatestSnapshot(c.Request.Context(), id)
	default:
		h.BadRequest(c, "source must be live or snapshot")
		return
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, ReportResponse{BatchReport: report, Complete: report.IsComplete()})
}
