package handler

import (
	"errors"
	"net/http"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/erp/feedsync/internal/domain/shared"
	"github.com/erp/feedsync/internal/infrastructure/logger"
	"github.com/erp/feedsync/internal/interfaces/http/dto"
	"github.com/erp/feedsync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 response for work that continues in the background
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response with the given status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// parseUUIDParam reads a UUID path parameter, answering 400 when it is malformed
func (h *BaseHandler) parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidationFormat, "Invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}

// HandleError converts service errors to HTTP responses. Errors that do not
// map to a domain error are logged and reported as internal errors.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	if domainErr := toDomainError(err); domainErr != nil {
		code := dto.NormalizeErrorCode(domainErr.Code)
		h.Error(c, dto.GetHTTPStatus(code), code, domainErr.Message)
		return
	}

	logger.GetGinLogger(c).Error("request failed", zap.Error(err))
	_ = c.Error(err)
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, "An unexpected error occurred")
}

// toDomainError maps listing and feed sentinels to API-facing domain errors
func toDomainError(err error) *shared.DomainError {
	var domainErr *shared.DomainError
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.Is(err, feed.ErrBatchNotFound):
		return shared.NewDomainError("BATCH_NOT_FOUND", "Feed batch not found")
	case errors.Is(err, feed.ErrSubBatchNotFound), errors.Is(err, feed.ErrReportNotFound):
		return shared.NewDomainError("NOT_FOUND", "Resource not found")
	case errors.Is(err, listing.ErrAssignmentNotFound):
		return shared.NewDomainError("NO_ASSIGNMENT", "Item has no product identifier assigned")
	case errors.Is(err, listing.ErrItemNotFound):
		return shared.NewDomainError("NOT_FOUND", "Source item not found")
	case errors.Is(err, listing.ErrResourceExhausted):
		return shared.NewDomainError("RESOURCE_EXHAUSTED", "Identifier pool exhausted")
	case errors.Is(err, listing.ErrConfiguration),
		errors.Is(err, listing.ErrProfileInvalid),
		errors.Is(err, feed.ErrInvalidLimits):
		return shared.NewDomainError("CONFIGURATION", err.Error())
	case errors.Is(err, feed.ErrTransport):
		return shared.NewDomainError("UNAVAILABLE", "Marketplace unavailable")
	default:
		return nil
	}
}
