// Package handlers implements the REST API endpoint handlers for HydraDNS.
//
// @title HydraDNS Management API
// @version 1.0
// @description REST API for managing HydraDNS server configuration, zones, and filtering.
//
// @contact.name HydraDNS Support
// @contact.url https://github.com/jroosing/hydradns
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jroosing/hydradns/internal/cluster"
	"github.com/jroosing/hydradns/internal/config"
	"github.com/jroosing/hydradns/internal/database"
	"github.com/jroosing/hydradns/internal/filtering"
	"github.com/jroosing/hydradns/internal/zone"
)

// DNSTestResult is the outcome of running a query through the resolver chain
// on behalf of the admin API's test-query endpoint.
type DNSTestResult struct {
	ResponseBytes []byte
	Source        string
}

// DNSStatsSnapshot mirrors the DNS query counters the resolver runner tracks,
// decoupling the handlers package from the server package's stats type.
type DNSStatsSnapshot struct {
	QueriesTotal uint64
	QueriesUDP   uint64
	QueriesTCP   uint64
	ResponsesNX  uint64
	ResponsesErr uint64
	AvgLatencyMs float64
}

// ListenerSnapshot mirrors server.ListenerSnapshot, decoupling the handlers
// package from the server package's listener-status type.
type ListenerSnapshot struct {
	UDP bool
	TCP bool
	DoT bool
	DoH bool
}

// Handler contains dependencies for API handlers.
type Handler struct {
	cfg       *config.Config
	db        *database.DB
	logger    *slog.Logger
	startTime time.Time

	// Runtime components (set after server starts)
	policyEngine       *filtering.PolicyEngine
	zones              []*zone.Zone
	clusterSyncer      *cluster.Syncer
	dnsStatsFunc       func() DNSStatsSnapshot
	dnsTestFunc        func(ctx context.Context, reqBytes []byte) (DNSTestResult, error)
	listenerFunc       func() ListenerSnapshot
	clearSidelinedFunc func(client string)
	customDNSReloadFunc func() error
	mu                 sync.RWMutex
}

// New creates a new Handler with the given configuration and database.
func New(cfg *config.Config, db *database.DB, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		db:        db,
		logger:    logger,
		startTime: time.Now(),
	}
}

// SetPolicyEngine sets the filtering policy engine for runtime access.
func (h *Handler) SetPolicyEngine(pe *filtering.PolicyEngine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.policyEngine = pe
}

// GetPolicyEngine returns the currently registered filtering policy engine, if any.
func (h *Handler) GetPolicyEngine() *filtering.PolicyEngine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.policyEngine
}

// SetZones sets the loaded zones for runtime access.
func (h *Handler) SetZones(zones []*zone.Zone) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.zones = zones
}

// SetDB sets the configuration database for runtime access.
func (h *Handler) SetDB(db *database.DB) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.db = db
}

// SetClusterSyncer sets the cluster syncer for status/sync endpoints.
func (h *Handler) SetClusterSyncer(s *cluster.Syncer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clusterSyncer = s
}

// SetDNSStatsFunc registers a callback the Stats endpoint uses to fetch live
// DNS query counters from the resolver runner.
func (h *Handler) SetDNSStatsFunc(fn func() DNSStatsSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dnsStatsFunc = fn
}

// GetDNSStatsFunc returns the registered DNS stats callback, if any.
func (h *Handler) GetDNSStatsFunc() func() DNSStatsSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dnsStatsFunc
}

// SetDNSTestFunc registers a callback the test-query endpoint uses to run a
// query through the resolver chain as if it came from a real client.
func (h *Handler) SetDNSTestFunc(fn func(ctx context.Context, reqBytes []byte) (DNSTestResult, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dnsTestFunc = fn
}

// GetDNSTestFunc returns the registered test-query callback, if any.
func (h *Handler) GetDNSTestFunc() func(ctx context.Context, reqBytes []byte) (DNSTestResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dnsTestFunc
}

// SetListenerStatusFunc registers a callback the health endpoint uses to
// read per-transport listener liveness from the resolver runner.
func (h *Handler) SetListenerStatusFunc(fn func() ListenerSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listenerFunc = fn
}

// GetListenerStatusFunc returns the registered listener-status callback, if any.
func (h *Handler) GetListenerStatusFunc() func() ListenerSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.listenerFunc
}

// SetClearSidelinedFunc registers a callback the rate-limit clear endpoint
// uses to release a client sidelined by the sliding-window query limiter.
func (h *Handler) SetClearSidelinedFunc(fn func(client string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clearSidelinedFunc = fn
}

// GetClearSidelinedFunc returns the registered clear-sidelined callback, if any.
func (h *Handler) GetClearSidelinedFunc() func(client string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clearSidelinedFunc
}

// formatRData converts zone record RData to a display string.
func formatRData(rdata any) string {
	if rdata == nil {
		return ""
	}
	return fmt.Sprintf("%v", rdata)
}

// formatRecordType converts a DNS record type to its name.
func formatRecordType(t uint16) string {
	switch t {
	case 1:
		return "A"
	case 2:
		return "NS"
	case 5:
		return "CNAME"
	case 6:
		return "SOA"
	case 12:
		return "PTR"
	case 15:
		return "MX"
	case 16:
		return "TXT"
	case 28:
		return "AAAA"
	default:
		return fmt.Sprintf("TYPE%d", t)
	}
}
