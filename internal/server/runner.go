package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/jroosing/hydradns/internal/config"
	"github.com/jroosing/hydradns/internal/dns"
	"github.com/jroosing/hydradns/internal/filtering"
	"github.com/jroosing/hydradns/internal/resolvers"
	"github.com/jroosing/hydradns/internal/tsig"
	"github.com/jroosing/hydradns/internal/zone"
)

// parseDurationOrDefault parses s as a duration, falling back to def when s
// is empty or malformed.
func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// preparedRuntime holds the resolver chain and sizing decisions computed by
// Runner.Prepare, so RunWithContext and callers that need the query handler
// ahead of the server loop (e.g. an admin "test query" endpoint) share the
// same build instead of each constructing their own chain.
type preparedRuntime struct {
	handler *QueryHandler
	zones   []*zone.Zone
	maxConc int
	upPool  int
}

// Runner orchestrates the DNS server startup, configuration, and shutdown.
type Runner struct {
	logger         *slog.Logger
	dnsStats       *DNSStats
	policyEngine   *filtering.PolicyEngine
	prepared       *preparedRuntime
	listenerStatus *ListenerStatus
}

// NewRunner creates a new server runner with the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger, dnsStats: NewDNSStats(), listenerStatus: &ListenerStatus{}}
}

// Prepare builds the resolver chain and query handler without starting any
// listeners, memoizing the result. Safe to call before RunWithContext so
// callers (e.g. the admin API's test-query endpoint) can reach the same
// resolver chain the DNS listeners will end up using.
func (r *Runner) Prepare(cfg *config.Config) *QueryHandler {
	if r.prepared != nil {
		return r.prepared.handler
	}

	desiredProcs := r.configureRuntime(cfg)
	maxConc := r.calculateMaxConcurrency(cfg, desiredProcs)
	upPool := r.calculateUpstreamPoolSize(cfg, maxConc)
	zones := r.loadZones(cfg)
	resolver := r.buildResolverChain(cfg, zones, upPool)
	h := &QueryHandler{
		Logger:       r.logger,
		Resolver:     resolver,
		Timeout:      4 * time.Second,
		Stats:        r.dnsStats,
		SlidingLimit: r.buildSlidingWindowLimiter(cfg),
	}

	r.prepared = &preparedRuntime{handler: h, zones: zones, maxConc: maxConc, upPool: upPool}
	return h
}

// QueryHandler returns the query handler built by Prepare, or nil if Prepare
// (directly, or indirectly via RunWithContext) has not run yet.
func (r *Runner) QueryHandler() *QueryHandler {
	if r.prepared == nil {
		return nil
	}
	return r.prepared.handler
}

// SetPolicyEngine injects a filtering policy engine built ahead of Run, so
// callers (e.g. the management API) can share the same engine instance the
// resolver chain ends up using instead of getting their own copy.
func (r *Runner) SetPolicyEngine(pe *filtering.PolicyEngine) {
	r.policyEngine = pe
}

// DNSStats returns the runner's query statistics collector.
func (r *Runner) DNSStats() *DNSStats {
	return r.dnsStats
}

// SlidingLimiter returns the sliding-window limiter built by Prepare, or nil
// if Prepare hasn't run yet or the limiter is disabled. Exposed so the
// management API can clear a sidelined client.
func (r *Runner) SlidingLimiter() *SlidingWindowLimiter {
	if r.prepared == nil {
		return nil
	}
	return r.prepared.handler.SlidingLimit
}

// buildSlidingWindowLimiter constructs the per-client query-budget limiter
// from config, or returns nil when disabled (Allow on a nil limiter always
// admits, so callers never need to check for nil themselves).
func (r *Runner) buildSlidingWindowLimiter(cfg *config.Config) *SlidingWindowLimiter {
	if !cfg.SlidingWindow.Enabled {
		return nil
	}
	window := time.Duration(cfg.SlidingWindow.WindowSeconds * float64(time.Second))
	return NewSlidingWindowLimiter(cfg.SlidingWindow.MaxQueries, window)
}

// ListenerStatus returns the runner's per-transport liveness tracker.
func (r *Runner) ListenerStatus() *ListenerStatus {
	return r.listenerStatus
}

// Run starts the DNS server with the given configuration, installing its own
// signal-driven shutdown context.
func (r *Runner) Run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return r.RunWithContext(ctx, cfg)
}

// RunWithContext starts the DNS server using a caller-supplied context for
// shutdown, so the caller can coordinate shutdown with other components
// (e.g. the management API server) instead of each installing its own signal
// handler.
//
// Server lifecycle:
//  1. Configure runtime (GOMAXPROCS based on workers setting)
//  2. Load zone files for local resolution
//  3. Build resolver chain (zones -> forwarding)
//  4. Start UDP and optionally TCP servers
//  5. Wait for ctx cancellation
//  6. Gracefully stop servers with timeout
func (r *Runner) RunWithContext(ctx context.Context, cfg *config.Config) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// Build (or reuse) the resolver chain and query handler
	h := r.Prepare(cfg)
	defer h.Resolver.Close()

	maxConc := r.prepared.maxConc
	upPool := r.prepared.upPool
	zones := r.prepared.zones

	// Create server components
	limiter := NewRateLimiter(RateLimitSettings{
		CleanupSeconds:   cfg.RateLimit.CleanupSeconds,
		MaxIPEntries:     cfg.RateLimit.MaxIPEntries,
		MaxPrefixEntries: cfg.RateLimit.MaxPrefixEntries,
		GlobalQPS:        cfg.RateLimit.GlobalQPS,
		GlobalBurst:      cfg.RateLimit.GlobalBurst,
		PrefixQPS:        cfg.RateLimit.PrefixQPS,
		PrefixBurst:      cfg.RateLimit.PrefixBurst,
		IPQPS:            cfg.RateLimit.IPQPS,
		IPBurst:          cfg.RateLimit.IPBurst,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	r.logStartup(cfg, addr, maxConc, upPool)

	// Start servers
	udp := &UDPServer{Logger: r.logger, Handler: h, Limiter: limiter, WorkersPerSocket: maxConc}
	var tcp *TCPServer
	if cfg.Server.EnableTCP {
		tcp = &TCPServer{Logger: r.logger, Handler: h}
		tcp.TransferHandler = r.buildTransferHandler(cfg, zones)
	}

	dot, doh, err := r.buildTLSServers(cfg, h)
	if err != nil {
		return err
	}

	errCh := make(chan error, 4)
	r.listenerStatus.SetUDP(true)
	go func() { errCh <- udp.Run(ctx, addr) }()

	if tcp != nil {
		r.listenerStatus.SetTCP(true)
		go func() { errCh <- tcp.Run(ctx, addr) }()
	}
	if dot != nil {
		dotAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.TLS.DoTPort))
		r.listenerStatus.SetDoT(true)
		go func() { errCh <- dot.Run(ctx, dotAddr) }()
	}
	if doh != nil {
		dohAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.TLS.DoHPort))
		r.listenerStatus.SetDoH(true)
		go func() { errCh <- doh.Run(ctx, dohAddr) }()
	}

	// Wait for shutdown or error
	select {
	case <-ctx.Done():
		// shutdown requested via signal
	case err := <-errCh:
		if err != nil {
			cancelRun()
			r.listenerStatus.SetUDP(false)
			r.listenerStatus.SetTCP(false)
			r.listenerStatus.SetDoT(false)
			r.listenerStatus.SetDoH(false)
			return err
		}
	}

	// Graceful shutdown
	stopTimeout := 5 * time.Second
	_ = udp.Stop(stopTimeout)
	r.listenerStatus.SetUDP(false)
	if tcp != nil {
		_ = tcp.Stop(stopTimeout)
		r.listenerStatus.SetTCP(false)
	}
	if dot != nil {
		_ = dot.Stop(stopTimeout)
		r.listenerStatus.SetDoT(false)
	}
	if doh != nil {
		_ = doh.Stop(stopTimeout)
		r.listenerStatus.SetDoH(false)
	}
	return nil
}

// buildTLSServers constructs the optional DoT/DoH listeners from TLS
// configuration, loading the shared certificate once. Returns nil, nil, nil
// for either server when its feature flag is off.
func (r *Runner) buildTLSServers(cfg *config.Config, h *QueryHandler) (*DoTServer, *DoHServer, error) {
	if !cfg.TLS.EnableDoT && !cfg.TLS.EnableDoH {
		return nil, nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading tls certificate: %w", err)
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	var dot *DoTServer
	if cfg.TLS.EnableDoT {
		dot = &DoTServer{Logger: r.logger, Handler: h, TLSConfig: tlsConfig}
	}

	var doh *DoHServer
	if cfg.TLS.EnableDoH {
		doh = &DoHServer{Logger: r.logger, Handler: h, Path: cfg.TLS.DoHPath, TLSConfig: tlsConfig}
	}

	return dot, doh, nil
}

// configureRuntime sets GOMAXPROCS based on worker configuration.
// Workers can reduce but never increase parallelism beyond the default.
func (r *Runner) configureRuntime(cfg *config.Config) int {
	baseProcs := runtime.GOMAXPROCS(0)
	if baseProcs <= 0 {
		baseProcs = 1
	}
	desiredProcs := baseProcs

	if cfg.Server.Workers.Mode == config.WorkersFixed {
		w := cfg.Server.Workers.Value
		if w <= 0 {
			w = 1
		}
		if w < desiredProcs {
			desiredProcs = w
		}
	}

	prev := runtime.GOMAXPROCS(desiredProcs)
	actual := runtime.GOMAXPROCS(0)
	if r.logger != nil {
		r.logger.Info("runtime", "gomaxprocs", actual, "prev", prev, "base", baseProcs)
	}
	return actual
}

// calculateMaxConcurrency determines the maximum concurrent request handlers.
func (r *Runner) calculateMaxConcurrency(cfg *config.Config, procs int) int {
	maxConc := cfg.Server.MaxConcurrency
	if maxConc <= 0 {
		c := procs
		if c <= 0 {
			c = 1
		}
		maxConc = c * 256
		if maxConc > 2048 {
			maxConc = 2048
		}
		if maxConc < 1 {
			maxConc = 1
		}
	}
	return maxConc
}

// calculateUpstreamPoolSize determines the UDP connection pool size for upstream queries.
func (r *Runner) calculateUpstreamPoolSize(cfg *config.Config, maxConc int) int {
	upPool := cfg.Server.UpstreamSocketPoolSize
	if upPool <= 0 {
		upPool = maxConc
		if upPool < 64 {
			upPool = 64
		}
		if upPool > 1024 {
			upPool = 1024
		}
	}
	return upPool
}

// loadZones discovers and loads zone files from the configured location.
func (r *Runner) loadZones(cfg *config.Config) []*zone.Zone {
	zoneFiles := discoverZoneFiles(cfg.Zones.Directory, cfg.Zones.Files)
	zones := make([]*zone.Zone, 0, len(zoneFiles))

	for _, p := range zoneFiles {
		z, err := zone.LoadFile(p)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("failed to load zone file", "path", p, "err", err)
			}
			continue
		}
		zones = append(zones, z)
	}

	if len(zones) > 0 && r.logger != nil {
		r.logger.Info("zones enabled", "count", len(zones), "files", zoneFiles)
	}
	return zones
}

// buildTransferHandler returns a TCPServer.TransferHandler that serves AXFR
// requests (and IXFR requests, answered with a logged full AXFR) directly
// from the loaded zones, gated by the configured ACL and
// optional TSIG key. Returns nil (no interception) if no zones are loaded.
func (r *Runner) buildTransferHandler(cfg *config.Config, zones []*zone.Zone) func(context.Context, net.Conn, []byte) bool {
	if len(zones) == 0 {
		return nil
	}

	acl := zone.TransferACL{RequiredTSIGKey: cfg.Zones.TransferTSIGKeyName}
	for _, c := range cfg.Zones.TransferAllowedCIDRs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("invalid zones.transfer_allowed_cidrs entry, ignoring", "value", c, "err", err)
			}
			continue
		}
		acl.AllowedPrefixes = append(acl.AllowedPrefixes, p)
	}

	var key *tsig.Key
	if cfg.Zones.TransferTSIGKeyName != "" {
		key = &tsig.Key{
			Name:      cfg.Zones.TransferTSIGKeyName,
			Algorithm: cfg.Zones.TransferTSIGAlgo,
			Secret:    []byte(cfg.Zones.TransferTSIGSecret),
			Enabled:   true,
		}
	}

	return func(ctx context.Context, conn net.Conn, reqBytes []byte) bool {
		parsed, err := dns.ParseRequestBounded(reqBytes)
		if err != nil || len(parsed.Questions) == 0 {
			return false
		}
		q := parsed.Questions[0]
		qt := dns.RecordType(q.Type)
		if qt != dns.TypeAXFR && qt != dns.TypeIXFR {
			return false
		}

		var z *zone.Zone
		for _, cand := range zones {
			if cand.ContainsName(q.Name) {
				z = cand
				break
			}
		}
		if z == nil {
			return false
		}
		if qt == dns.TypeIXFR && r.logger != nil {
			r.logger.Info("ixfr not supported, serving full zone transfer", "zone", z.Origin)
		}

		if err := zone.Transfer(conn, parsed, reqBytes, z, acl, key); err != nil {
			if r.logger != nil {
				r.logger.Warn("zone transfer refused", "zone", z.Origin, "err", err)
			}
		}
		return true
	}
}

// buildResolverChain creates the resolver chain: filtering -> zones (if any) -> forwarding.
func (r *Runner) buildResolverChain(cfg *config.Config, zones []*zone.Zone, upPool int) resolvers.Resolver {
	resList := make([]resolvers.Resolver, 0, 3)

	if len(cfg.CustomDNS.Hosts) > 0 || len(cfg.CustomDNS.CNAMEs) > 0 {
		cd, err := resolvers.NewCustomDNSResolver(cfg.CustomDNS.Hosts, cfg.CustomDNS.CNAMEs)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("invalid custom_dns configuration, skipping", "err", err)
			}
		} else {
			resList = append(resList, resolvers.NewReloadableCustomDNSResolver(cd))
		}
	}

	if len(zones) > 0 {
		resList = append(resList, resolvers.NewZoneResolver(zones))
	}

	udpTimeout := parseDurationOrDefault(cfg.Upstream.UDPTimeout, resolvers.DefaultUDPTimeout)
	tcpTimeout := parseDurationOrDefault(cfg.Upstream.TCPTimeout, resolvers.DefaultTCPTimeout)
	cacheOpts := resolvers.CacheOptions{
		ServeStale:          cfg.Cache.ServeStale,
		MaxStaleAge:         parseDurationOrDefault(cfg.Cache.MaxStaleAge, time.Hour),
		PrefetchEnabled:     cfg.Cache.PrefetchEnabled,
		PrefetchWindow:      parseDurationOrDefault(cfg.Cache.PrefetchWindow, 10*time.Second),
		PrefetchMinAccesses: cfg.Cache.PrefetchMinAccesses,
		PrefetchInterval:    parseDurationOrDefault(cfg.Cache.PrefetchInterval, 5*time.Second),
	}
	fwd := resolvers.NewForwardingResolver(
		cfg.Upstream.Servers,
		upPool,
		cfg.Cache.MaxEntries,
		cfg.Server.TCPFallback,
		udpTimeout,
		tcpTimeout,
		cfg.Upstream.MaxRetries,
		cacheOpts,
	)

	var upstream resolvers.Resolver = fwd
	if len(cfg.Upstream.ConditionalForwarding) > 0 {
		routes := make([]resolvers.ConditionalRoute, 0, len(cfg.Upstream.ConditionalForwarding))
		for _, rule := range cfg.Upstream.ConditionalForwarding {
			if rule.Domain == "" || len(rule.Servers) == 0 {
				continue
			}
			ruleResolver := resolvers.NewForwardingResolver(
				rule.Servers, upPool, cfg.Cache.MaxEntries, cfg.Server.TCPFallback,
				udpTimeout, tcpTimeout, cfg.Upstream.MaxRetries, resolvers.CacheOptions{},
			)
			routes = append(routes, resolvers.ConditionalRoute{Suffix: rule.Domain, Resolver: ruleResolver})
		}
		if len(routes) > 0 {
			upstream = resolvers.NewConditionalForwarder(routes, fwd)
			if r.logger != nil {
				r.logger.Info("conditional forwarding enabled", "rules", len(routes))
			}
		}
	}
	resList = append(resList, upstream)

	var chain resolvers.Resolver = &resolvers.Chained{Resolvers: resList}

	// Wrap with filtering if enabled
	if cfg.Filtering.Enabled {
		policy := r.policyEngine
		if policy == nil {
			policy = BuildPolicyEngine(cfg, r.logger)
			r.policyEngine = policy
		}
		chain = resolvers.NewFilteringResolver(policy, chain)
		if r.logger != nil {
			r.logger.Info("filtering enabled",
				"whitelist_count", len(cfg.Filtering.WhitelistDomains),
				"blacklist_count", len(cfg.Filtering.BlacklistDomains),
				"blocklists", len(cfg.Filtering.Blocklists),
			)
		}
	}

	return chain
}

// BuildPolicyEngine creates a PolicyEngine from the configuration. It is
// exported so callers that need the engine before the resolver chain is
// built (e.g. to hand it to the management API) can construct it once and
// inject it via Runner.SetPolicyEngine.
func BuildPolicyEngine(cfg *config.Config, logger *slog.Logger) *filtering.PolicyEngine {
	// Convert blocklist configs to BlocklistURLs
	blocklists := make([]filtering.BlocklistURL, 0, len(cfg.Filtering.Blocklists))
	for _, bl := range cfg.Filtering.Blocklists {
		format := filtering.FormatAuto
		switch bl.Format {
		case "adblock":
			format = filtering.FormatAdblock
		case "hosts":
			format = filtering.FormatHosts
		case "domains":
			format = filtering.FormatDomains
		}
		blocklists = append(blocklists, filtering.BlocklistURL{
			Name:   bl.Name,
			URL:    bl.URL,
			Format: format,
		})
	}

	// Parse refresh interval
	refreshInterval := 24 * time.Hour
	if cfg.Filtering.RefreshInterval != "" {
		if d, err := time.ParseDuration(cfg.Filtering.RefreshInterval); err == nil {
			refreshInterval = d
		}
	}

	clientRules := make(map[string]filtering.ClientRule, len(cfg.Filtering.ClientRules))
	for client, rule := range cfg.Filtering.ClientRules {
		clientRules[client] = filtering.ClientRule{Allow: rule.Allow, Block: rule.Block, Groups: rule.Groups}
	}
	groupRules := make(map[string]filtering.GroupRule, len(cfg.Filtering.GroupRules))
	for group, rule := range cfg.Filtering.GroupRules {
		groupRules[group] = filtering.GroupRule{Allow: rule.Allow, Block: rule.Block}
	}

	return filtering.NewPolicyEngine(filtering.PolicyEngineConfig{
		Enabled:            cfg.Filtering.Enabled,
		BlockAction:        filtering.ActionBlock,
		LogBlocked:         cfg.Filtering.LogBlocked,
		LogAllowed:         cfg.Filtering.LogAllowed,
		WhitelistDomains:   cfg.Filtering.WhitelistDomains,
		BlacklistDomains:   cfg.Filtering.BlacklistDomains,
		BlocklistURLs:      blocklists,
		RefreshInterval:    refreshInterval,
		ClientRules:        clientRules,
		GroupRules:         groupRules,
		RegexAllowPatterns: cfg.Filtering.RegexAllowPatterns,
		RegexBlockPatterns: cfg.Filtering.RegexBlockPatterns,
	})
}

// logStartup logs server configuration at startup.
func (r *Runner) logStartup(cfg *config.Config, addr string, maxConc, upPool int) {
	if r.logger != nil {
		r.logger.Info(
			"dns listening",
			"addr", addr,
			"udp", true,
			"tcp", cfg.Server.EnableTCP,
			"dot", cfg.TLS.EnableDoT,
			"doh", cfg.TLS.EnableDoH,
			"upstreams", cfg.Upstream.Servers,
			"max_concurrency", maxConc,
			"upstream_pool", upPool,
		)
	}
}

// discoverZoneFiles returns zone files to load, either from explicit config
// or by scanning the zones directory.
func discoverZoneFiles(zonesDir string, explicit []string) []string {
	// Use explicit list if provided
	if len(explicit) > 0 {
		out := make([]string, 0, len(explicit))
		for _, p := range explicit {
			p = filepath.Clean(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out
	}

	// Otherwise scan directory
	if zonesDir == "" {
		zonesDir = "zones"
	}
	entries, err := os.ReadDir(zonesDir)
	if err != nil {
		return nil
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == "" {
			continue
		}
		files = append(files, filepath.Join(zonesDir, name))
	}
	sort.Strings(files)
	return files
}
