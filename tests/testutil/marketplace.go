package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/gin-gonic/gin"
)

// FakeMarketplace serves the marketplace feed API from memory.
// Every submitted item is accepted unless it was rejected with RejectSKU.
// A repeated Idempotency-Key returns the feed created for it.
type FakeMarketplace struct {
	mu           sync.Mutex
	server       *httptest.Server
	pendingPolls int
	reject       map[string]string
	feeds        map[string][]string
	polls        map[string]int
	keys         map[string]string
	order        []string
}

// NewFakeMarketplace starts the fake API. The server is closed on test cleanup.
func NewFakeMarketplace(t *testing.T) *FakeMarketplace {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := &FakeMarketplace{
		reject: map[string]string{},
		feeds:  map[string][]string{},
		polls:  map[string]int{},
		keys:   map[string]string{},
	}
	engine := gin.New()
	engine.POST("/v1/feeds", m.submit)
	engine.GET("/v1/feeds/:id", m.status)

	m.server = httptest.NewServer(engine)
	t.Cleanup(m.server.Close)
	return m
}

// URL returns the API root
func (m *FakeMarketplace) URL() string {
	return m.server.URL
}

// SetPendingPolls sets how many status calls report IN_PROGRESS before DONE
func (m *FakeMarketplace) SetPendingPolls(n int) {
	m.mu.Lock()
	m.pendingPolls = n
	m.mu.Unlock()
}

// RejectSKU makes every feed containing sku report it as an error with code
func (m *FakeMarketplace) RejectSKU(sku, code string) {
	m.mu.Lock()
	m.reject[sku] = code
	m.mu.Unlock()
}

// Submissions returns the number of accepted feed submissions
func (m *FakeMarketplace) Submissions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// SubmittedSKUs returns every SKU received, in submission order
func (m *FakeMarketplace) SubmittedSKUs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, id := range m.order {
		out = append(out, m.feeds[id]...)
	}
	return out
}

func (m *FakeMarketplace) submit(c *gin.Context) {
	var payload feed.FeedPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "MALFORMED", "message": err.Error()})
		return
	}

	m.mu.Lock()
	key := c.GetHeader("Idempotency-Key")
	if id, seen := m.keys[key]; seen && key != "" {
		m.mu.Unlock()
		c.JSON(http.StatusAccepted, gin.H{"feed_id": id})
		return
	}
	id := fmt.Sprintf("feed-%d", len(m.order)+1)
	if key != "" {
		m.keys[key] = id
	}
	skus := make([]string, 0, len(payload.Items))
	for _, item := range payload.Items {
		skus = append(skus, item.SKU)
	}
	m.feeds[id] = skus
	m.order = append(m.order, id)
	m.mu.Unlock()

	c.JSON(http.StatusAccepted, gin.H{"feed_id": id})
}

func (m *FakeMarketplace) status(c *gin.Context) {
	id := c.Param("id")

	m.mu.Lock()
	defer m.mu.Unlock()
	skus, ok := m.feeds[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND"})
		return
	}
	m.polls[id]++
	if m.polls[id] <= m.pendingPolls {
		c.JSON(http.StatusOK, gin.H{"feed_id": id, "processing_status": string(feed.ProcessingStatusInProgress)})
		return
	}

	results := make([]gin.H, 0, len(skus))
	invalid := 0
	for _, sku := range skus {
		if code, rejected := m.reject[sku]; rejected {
			invalid++
			results = append(results, gin.H{"sku": sku, "status": string(feed.ItemResultError), "code": code, "message": "rejected by fake"})
			continue
		}
		results = append(results, gin.H{"sku": sku, "status": string(feed.ItemResultAccepted)})
	}
	c.JSON(http.StatusOK, gin.H{
		"feed_id":            id,
		"processing_status":  string(feed.ProcessingStatusDone),
		"messages_processed": len(skus),
		"messages_accepted":  len(skus) - invalid,
		"messages_invalid":   invalid,
		"results":            results,
	})
}
