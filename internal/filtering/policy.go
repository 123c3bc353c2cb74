package filtering

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"
)

// Blank declaration with no effect; this file imports no logging package.
var _ = struct{}{}

// Action represents the filtering decision for a domain.
type Action int

const (
	// ActionAllow allows the query to proceed.
	ActionAllow Action = iota
	// ActionBlock blocks the query and returns NXDOMAIN or a configured response.
	ActionBlock
	// ActionLog allows the query but logs it (for monitoring).
	ActionLog
)

// String returns a string representation of the action.
func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionBlock:
		return "block"
	case ActionLog:
		return "log"
	default:
		return "unknown"
	}
}

// PolicyResult contains the result of a policy evaluation.
type PolicyResult struct {
	Action   Action
	Rule     string // which rule matched (for logging)
	ListName string // which list matched (for logging)
}

// PolicyEngine evaluates DNS queries through a nine-tier precedence chain:
//
//	ClientAllow > GroupAllow > GlobalAllow > RegexAllow >
//	ClientBlock > GroupBlock > GlobalBlock > RegexBlock > default-allow
//
// Allow always outranks block at every scope, and more specific scopes
// (client, then group) outrank the global lists before regex rules are
// considered at each polarity.
//
// Thread-safe for concurrent use.
type PolicyEngine struct {
	logger *slog.Logger

	whitelist *DomainTrie
	blacklist *DomainTrie

	// Per-client and per-group overlay rule sets, keyed by client identifier
	// (source IP string) and group id respectively.
	mu            sync.RWMutex
	clientAllow   map[string]*DomainTrie
	clientBlock   map[string]*DomainTrie
	groupAllow    map[string]*DomainTrie
	groupBlock    map[string]*DomainTrie
	clientGroups  map[string][]string
	regexAllow    []*regexp.Regexp
	regexBlock    []*regexp.Regexp

	// Statistics
	queriesTotal   atomic.Uint64
	queriesBlocked atomic.Uint64
	queriesAllowed atomic.Uint64

	// List metadata
	listSources map[string]ListSource

	// Configuration
	enabled       bool
	blockAction   Action
	logBlocked    bool
	logAllowed    bool
	refreshTicker *time.Ticker
	refreshStop   chan struct{}
}

// ClientRule is a per-client overlay: explicit allow/block domain lists and
// the group ids the client belongs to.
type ClientRule struct {
	Allow  []string
	Block  []string
	Groups []string
}

// GroupRule is a per-group overlay: explicit allow/block domain lists shared
// by every client member of the group.
type GroupRule struct {
	Allow []string
	Block []string
}

// ListSource tracks metadata about a blocklist source.
type ListSource struct {
	Name        string
	URL         string
	Format      ListFormat
	LastUpdate  time.Time
	LastError   error
	DomainCount int
}

// PolicyEngineConfig configures the policy engine.
type PolicyEngineConfig struct {
	// Logger is used for policy engine log output. If nil, the default logger is used.
	Logger *slog.Logger

	// Enabled determines if filtering is active.
	Enabled bool

	// BlockAction is the action to take for blocked domains.
	BlockAction Action

	// LogBlocked enables logging of blocked queries.
	LogBlocked bool

	// LogAllowed enables logging of allowed queries (verbose).
	LogAllowed bool

	// WhitelistDomains is a list of domains to always allow.
	WhitelistDomains []string

	// BlacklistDomains is a list of domains to always block.
	BlacklistDomains []string

	// BlocklistURLs is a list of remote blocklists to fetch.
	BlocklistURLs []BlocklistURL

	// RefreshInterval is how often to refresh remote blocklists.
	// Zero means no automatic refresh.
	RefreshInterval time.Duration

	// ClientRules maps a client identifier (source IP) to its per-client
	// allow/block overlay and group memberships.
	ClientRules map[string]ClientRule

	// GroupRules maps a group id to its per-group allow/block overlay.
	GroupRules map[string]GroupRule

	// RegexAllowPatterns and RegexBlockPatterns are global regular
	// expressions evaluated against the full query name. Invalid patterns
	// are dropped (logged) rather than failing engine construction.
	RegexAllowPatterns []string
	RegexBlockPatterns []string
}

// BlocklistURL represents a remote blocklist configuration.
type BlocklistURL struct {
	Name   string
	URL    string
	Format ListFormat
}

// NewPolicyEngine creates a new policy engine with the given configuration.
func NewPolicyEngine(cfg PolicyEngineConfig) *PolicyEngine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pe := &PolicyEngine{
		logger:       logger,
		whitelist:    NewDomainTrie(),
		blacklist:    NewDomainTrie(),
		listSources:  make(map[string]ListSource),
		clientAllow:  make(map[string]*DomainTrie),
		clientBlock:  make(map[string]*DomainTrie),
		groupAllow:   make(map[string]*DomainTrie),
		groupBlock:   make(map[string]*DomainTrie),
		clientGroups: make(map[string][]string),
		enabled:      cfg.Enabled,
		blockAction:  cfg.BlockAction,
		logBlocked:   cfg.LogBlocked,
		logAllowed:   cfg.LogAllowed,
	}

	for group, rule := range cfg.GroupRules {
		allow, block := NewDomainTrie(), NewDomainTrie()
		for _, d := range rule.Allow {
			allow.Add(d, true)
		}
		for _, d := range rule.Block {
			block.Add(d, true)
		}
		pe.groupAllow[group] = allow
		pe.groupBlock[group] = block
	}
	for client, rule := range cfg.ClientRules {
		allow, block := NewDomainTrie(), NewDomainTrie()
		for _, d := range rule.Allow {
			allow.Add(d, true)
		}
		for _, d := range rule.Block {
			block.Add(d, true)
		}
		pe.clientAllow[client] = allow
		pe.clientBlock[client] = block
		pe.clientGroups[client] = rule.Groups
	}
	for _, pat := range cfg.RegexAllowPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			logger.Warn("invalid regex allow pattern, skipping", "pattern", pat, "err", err)
			continue
		}
		pe.regexAllow = append(pe.regexAllow, re)
	}
	for _, pat := range cfg.RegexBlockPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			logger.Warn("invalid regex block pattern, skipping", "pattern", pat, "err", err)
			continue
		}
		pe.regexBlock = append(pe.regexBlock, re)
	}

	// Add configured whitelist domains
	parser := NewParser()
	if len(cfg.WhitelistDomains) > 0 {
		for _, domain := range cfg.WhitelistDomains {
			pe.whitelist.Add(domain, true)
		}
	}

	// Add configured blacklist domains
	if len(cfg.BlacklistDomains) > 0 {
		for _, domain := range cfg.BlacklistDomains {
			pe.blacklist.Add(domain, true)
		}
	}

	// Fetch remote blocklists (in background for startup speed)
	if len(cfg.BlocklistURLs) > 0 {
		go pe.loadBlocklists(parser, cfg.BlocklistURLs)
	}

	// Start refresh timer if configured
	if cfg.RefreshInterval > 0 && len(cfg.BlocklistURLs) > 0 {
		pe.refreshTicker = time.NewTicker(cfg.RefreshInterval)
		pe.refreshStop = make(chan struct{})
		go pe.refreshLoop(parser, cfg.BlocklistURLs)
	}

	return pe
}

// loadBlocklists fetches and parses all configured blocklists.
func (pe *PolicyEngine) loadBlocklists(parser *Parser, urls []BlocklistURL) {
	for _, bl := range urls {
		pe.loadBlocklist(parser, bl)
	}
}

// loadBlocklist fetches and parses a single blocklist.
func (pe *PolicyEngine) loadBlocklist(parser *Parser, bl BlocklistURL) {
	source := ListSource{
		Name:       bl.Name,
		URL:        bl.URL,
		Format:     bl.Format,
		LastUpdate: time.Now(),
	}

	trie, err := parser.ParseURL(bl.URL, bl.Format)
	if err != nil {
		source.LastError = err
		pe.logger.Warn("Failed to load blocklist",
			"name", bl.Name,
			"url", bl.URL,
			"error", err)
	} else {
		source.DomainCount = trie.Size()
		pe.blacklist.Merge(trie)
		pe.logger.Info("Loaded blocklist",
			"name", bl.Name,
			"domains", trie.Size())
	}

	pe.mu.Lock()
	pe.listSources[bl.Name] = source
	pe.mu.Unlock()
}

// refreshLoop periodically refreshes blocklists.
func (pe *PolicyEngine) refreshLoop(parser *Parser, urls []BlocklistURL) {
	for {
		select {
		case <-pe.refreshTicker.C:
			pe.logger.Debug("Refreshing blocklists...")
			// Create a new blacklist and merge all sources
			newBlacklist := NewDomainTrie()

			// Static and runtime-added blacklist domains are not tracked
			// separately, so the refreshed blacklist holds only the entries
			// parsed from the remote sources below.

			for _, bl := range urls {
				trie, err := parser.ParseURL(bl.URL, bl.Format)
				if err != nil {
					pe.logger.Warn("Failed to refresh blocklist",
						"name", bl.Name,
						"error", err)
					continue
				}
				newBlacklist.Merge(trie)
			}

			pe.mu.Lock()
			pe.blacklist = newBlacklist
			pe.mu.Unlock()

			pe.logger.Info("Blocklists refreshed", "total_domains", newBlacklist.Size())

		case <-pe.refreshStop:
			return
		}
	}
}

// Evaluate checks a domain against the policy and returns the action to take.
func (pe *PolicyEngine) Evaluate(domain string) PolicyResult {
	return pe.EvaluateForClient(domain, "")
}

// EvaluateForClient runs the nine-tier precedence chain for domain on behalf
// of clientIP (the client's source address, or "" for no client context):
//
//	ClientAllow > GroupAllow > GlobalAllow > RegexAllow >
//	ClientBlock > GroupBlock > GlobalBlock > RegexBlock > default-allow
func (pe *PolicyEngine) EvaluateForClient(domain, clientIP string) PolicyResult {
	pe.queriesTotal.Add(1)

	if !pe.enabled {
		pe.queriesAllowed.Add(1)
		return PolicyResult{Action: ActionAllow}
	}

	pe.mu.RLock()
	groups := pe.clientGroups[clientIP]
	clientAllow := pe.clientAllow[clientIP]
	clientBlock := pe.clientBlock[clientIP]
	pe.mu.RUnlock()

	if clientAllow != nil && clientAllow.Contains(domain) {
		return pe.allowResult(domain, "client-allow")
	}
	for _, g := range groups {
		pe.mu.RLock()
		allow := pe.groupAllow[g]
		pe.mu.RUnlock()
		if allow != nil && allow.Contains(domain) {
			return pe.allowResult(domain, "group-allow:"+g)
		}
	}
	if pe.whitelist.Contains(domain) {
		return pe.allowResult(domain, "whitelist")
	}
	if pe.matchesAny(pe.regexAllow, domain) {
		return pe.allowResult(domain, "regex-allow")
	}

	if clientBlock != nil && clientBlock.Contains(domain) {
		return pe.blockResult(domain, "client-block")
	}
	for _, g := range groups {
		pe.mu.RLock()
		block := pe.groupBlock[g]
		pe.mu.RUnlock()
		if block != nil && block.Contains(domain) {
			return pe.blockResult(domain, "group-block:"+g)
		}
	}
	if pe.blacklist.Contains(domain) {
		return pe.blockResult(domain, "blacklist")
	}
	if pe.matchesAny(pe.regexBlock, domain) {
		return pe.blockResult(domain, "regex-block")
	}

	pe.queriesAllowed.Add(1)
	return PolicyResult{Action: ActionAllow}
}

func (pe *PolicyEngine) matchesAny(patterns []*regexp.Regexp, domain string) bool {
	for _, re := range patterns {
		if re.MatchString(domain) {
			return true
		}
	}
	return false
}

func (pe *PolicyEngine) allowResult(domain, listName string) PolicyResult {
	pe.queriesAllowed.Add(1)
	if pe.logAllowed {
		pe.logger.Debug("Domain allowed", "domain", domain, "list", listName)
	}
	return PolicyResult{Action: ActionAllow, Rule: domain, ListName: listName}
}

func (pe *PolicyEngine) blockResult(domain, listName string) PolicyResult {
	pe.queriesBlocked.Add(1)
	if pe.logBlocked {
		pe.logger.Info("Domain blocked", "domain", domain, "list", listName)
	}
	return PolicyResult{Action: pe.blockAction, Rule: domain, ListName: listName}
}

// SetClientRule installs or replaces a client's allow/block overlay and
// group memberships at runtime.
func (pe *PolicyEngine) SetClientRule(clientIP string, rule ClientRule) {
	allow, block := NewDomainTrie(), NewDomainTrie()
	for _, d := range rule.Allow {
		allow.Add(d, true)
	}
	for _, d := range rule.Block {
		block.Add(d, true)
	}
	pe.mu.Lock()
	pe.clientAllow[clientIP] = allow
	pe.clientBlock[clientIP] = block
	pe.clientGroups[clientIP] = rule.Groups
	pe.mu.Unlock()
}

// SetGroupRule installs or replaces a group's allow/block overlay at runtime.
func (pe *PolicyEngine) SetGroupRule(group string, rule GroupRule) {
	allow, block := NewDomainTrie(), NewDomainTrie()
	for _, d := range rule.Allow {
		allow.Add(d, true)
	}
	for _, d := range rule.Block {
		block.Add(d, true)
	}
	pe.mu.Lock()
	pe.groupAllow[group] = allow
	pe.groupBlock[group] = block
	pe.mu.Unlock()
}

// EvaluateWithContext is like Evaluate but respects context cancellation.
func (pe *PolicyEngine) EvaluateWithContext(ctx context.Context, domain string) (PolicyResult, error) {
	select {
	case <-ctx.Done():
		return PolicyResult{}, ctx.Err()
	default:
		return pe.Evaluate(domain), nil
	}
}

// AddToWhitelist adds a domain to the whitelist.
func (pe *PolicyEngine) AddToWhitelist(domain string) {
	pe.whitelist.Add(domain, true)
}

// AddToBlacklist adds a domain to the blacklist.
func (pe *PolicyEngine) AddToBlacklist(domain string) {
	pe.blacklist.Add(domain, true)
}

// RemoveFromWhitelist removes a domain from the whitelist.
func (pe *PolicyEngine) RemoveFromWhitelist(domain string) {
	pe.whitelist.Remove(domain)
}

// RemoveFromBlacklist removes a domain from the blacklist.
func (pe *PolicyEngine) RemoveFromBlacklist(domain string) {
	pe.blacklist.Remove(domain)
}

// Stats returns current filtering statistics.
func (pe *PolicyEngine) Stats() PolicyStats {
	return PolicyStats{
		QueriesTotal:   pe.queriesTotal.Load(),
		QueriesBlocked: pe.queriesBlocked.Load(),
		QueriesAllowed: pe.queriesAllowed.Load(),
		WhitelistSize:  pe.whitelist.Size(),
		BlacklistSize:  pe.blacklist.Size(),
		Enabled:        pe.enabled,
	}
}

// PolicyStats contains filtering statistics.
type PolicyStats struct {
	QueriesTotal   uint64
	QueriesBlocked uint64
	QueriesAllowed uint64
	WhitelistSize  int
	BlacklistSize  int
	Enabled        bool
}

// ListInfo returns information about loaded blocklists.
func (pe *PolicyEngine) ListInfo() []ListSource {
	pe.mu.RLock()
	defer pe.mu.RUnlock()

	sources := make([]ListSource, 0, len(pe.listSources))
	for _, s := range pe.listSources {
		sources = append(sources, s)
	}
	return sources
}

// SetEnabled enables or disables filtering.
func (pe *PolicyEngine) SetEnabled(enabled bool) {
	pe.enabled = enabled
}

// Close stops any background goroutines.
func (pe *PolicyEngine) Close() error {
	if pe.refreshTicker != nil {
		pe.refreshTicker.Stop()
	}
	if pe.refreshStop != nil {
		close(pe.refreshStop)
	}
	return nil
}

// String returns a summary of the policy engine state.
func (pe *PolicyEngine) String() string {
	stats := pe.Stats()
	return fmt.Sprintf("PolicyEngine{enabled=%v, whitelist=%d, blacklist=%d, blocked=%d/%d}",
		stats.Enabled, stats.WhitelistSize, stats.BlacklistSize,
		stats.QueriesBlocked, stats.QueriesTotal)
}
