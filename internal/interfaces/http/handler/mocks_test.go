package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	listingapp "github.com/erp/feedsync/internal/application/listing"
	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/erp/feedsync/internal/interfaces/http/dto"
	"github.com/erp/feedsync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSyncer struct{ mock.Mock }

func (m *mockSyncer) Sync(ctx context.Context, itemIDs []uuid.UUID) (*feed.Batch, error) {
	args := m.Called(ctx, itemIDs)
	if b := args.Get(0); b != nil {
		return b.(*feed.Batch), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSyncer) Batch(ctx context.Context, id uuid.UUID) (*feed.Batch, error) {
	args := m.Called(ctx, id)
	if b := args.Get(0); b != nil {
		return b.(*feed.Batch), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockReporter struct{ mock.Mock }

func (m *mockReporter) Report(ctx context.Context, batchID uuid.UUID) (*feed.BatchReport, error) {
	args := m.Called(ctx, batchID)
	if r := args.Get(0); r != nil {
		return r.(*feed.BatchReport), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReporter) LatestSnapshot(ctx context.Context, batchID uuid.UUID) (*feed.BatchReport, error) {
	args := m.Called(ctx, batchID)
	if r := args.Get(0); r != nil {
		return r.(*feed.BatchReport), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockIdentifiers struct{ mock.Mock }

func (m *mockIdentifiers) Lookup(ctx context.Context, itemID uuid.UUID) (*listing.IdentifierAssignment, error) {
	args := m.Called(ctx, itemID)
	if a := args.Get(0); a != nil {
		return a.(*listing.IdentifierAssignment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockIdentifiers) Available(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockIdentifiers) Import(ctx context.Context, identifiers []string) (*listingapp.ImportResult, error) {
	args := m.Called(ctx, identifiers)
	if r := args.Get(0); r != nil {
		return r.(*listingapp.ImportResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type registrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

func newTestEngine(handlers ...registrar) *gin.Engine {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
	engine := gin.New()
	engine.Use(middleware.RequestID())
	api := engine.Group("/api/v1")
	for _, h := range handlers {
		h.RegisterRoutes(api)
	}
	return engine
}

func do(t *testing.T, engine http.Handler, method, path, body string) (*httptest.ResponseRecorder, dto.Response) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}
