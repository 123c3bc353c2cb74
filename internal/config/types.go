// Package config provides configuration loading for HydraDNS using Viper.
// Configuration is loaded from YAML files with automatic environment variable binding.
//
// Environment variables use the HYDRADNS_ prefix and underscore-separated keys:
//   - HYDRADNS_SERVER_HOST -> server.host
//   - HYDRADNS_SERVER_PORT -> server.port
//   - HYDRADNS_UPSTREAM_SERVERS -> upstream.servers (comma-separated)
//   - HYDRADNS_FILTERING_ENABLED -> filtering.enabled
//
// Legacy environment variable names are also supported for backward compatibility.
package config

import (
	"os"
	"strconv"
	"strings"
)

// WorkersMode specifies how worker count is determined.
type WorkersMode int

const (
	// WorkersAuto automatically determines worker count based on available CPUs.
	WorkersAuto WorkersMode = iota
	// WorkersFixed uses a specific worker count.
	WorkersFixed
)

// WorkerSetting represents the workers configuration.
type WorkerSetting struct {
	Mode  WorkersMode
	Value int
}

// String returns the string representation of the worker setting.
func (w WorkerSetting) String() string {
	if w.Mode == WorkersAuto {
		return "auto"
	}
	return strconv.Itoa(w.Value)
}

// ServerConfig contains server-related settings.
type ServerConfig struct {
	Host                   string        `yaml:"host"                      mapstructure:"host"`
	Port                   int           `yaml:"port"                      mapstructure:"port"`
	Workers                WorkerSetting `yaml:"-"                         mapstructure:"-"`
	WorkersRaw             string        `yaml:"workers"                   mapstructure:"workers"`
	MaxConcurrency         int           `yaml:"max_concurrency"           mapstructure:"max_concurrency"`
	UpstreamSocketPoolSize int           `yaml:"upstream_socket_pool_size" mapstructure:"upstream_socket_pool_size"`
	EnableTCP              bool          `yaml:"enable_tcp"                mapstructure:"enable_tcp"`
	TCPFallback            bool          `yaml:"tcp_fallback"              mapstructure:"tcp_fallback"`
}

// UpstreamConfig contains upstream DNS server settings. Servers may be bare
// IPs (plain UDP/TCP), "tls://host:853" (DoT), or "https://host/path" (DoH).
type UpstreamConfig struct {
	Servers    []string `yaml:"servers"     mapstructure:"servers"     json:"servers"`
	UDPTimeout string   `yaml:"udp_timeout" mapstructure:"udp_timeout" json:"udp_timeout"` // Timeout for UDP queries (e.g., "3s")
	TCPTimeout string   `yaml:"tcp_timeout" mapstructure:"tcp_timeout" json:"tcp_timeout"` // Timeout for TCP queries (e.g., "5s")
	MaxRetries int      `yaml:"max_retries" mapstructure:"max_retries" json:"max_retries"` // Max retries per upstream on timeout

	// ConditionalForwarding routes queries for specific domain suffixes to a
	// dedicated set of upstreams instead of the default Servers list, e.g.
	// sending "corp.example.com" to an internal resolver.
	ConditionalForwarding []ConditionalForwardRule `yaml:"conditional_forwarding" mapstructure:"conditional_forwarding" json:"conditional_forwarding,omitempty"`
}

// ConditionalForwardRule routes queries under Domain (and its subdomains) to
// Servers instead of the default upstream pool.
type ConditionalForwardRule struct {
	Domain  string   `yaml:"domain"  mapstructure:"domain"  json:"domain"`
	Servers []string `yaml:"servers" mapstructure:"servers" json:"servers"`
}

// ZonesConfig contains zone file settings.
type ZonesConfig struct {
	Directory string   `yaml:"directory" mapstructure:"directory" json:"directory"`
	Files     []string `yaml:"files"     mapstructure:"files"     json:"files,omitempty"`

	// TransferAllowedCIDRs restricts which clients may AXFR a zone. An empty
	// list allows any source address only when TransferTSIGKeyName is set
	// (TSIG-only gating); with neither set, every transfer is refused.
	TransferAllowedCIDRs []string `yaml:"transfer_allowed_cidrs" mapstructure:"transfer_allowed_cidrs" json:"transfer_allowed_cidrs,omitempty"`
	// TransferTSIGKeyName, when set, requires AXFR requests to carry a valid
	// TSIG signature from this key.
	TransferTSIGKeyName string `yaml:"transfer_tsig_key_name" mapstructure:"transfer_tsig_key_name" json:"transfer_tsig_key_name,omitempty"`
	TransferTSIGAlgo    string `yaml:"transfer_tsig_algorithm" mapstructure:"transfer_tsig_algorithm" json:"transfer_tsig_algorithm,omitempty"`
	TransferTSIGSecret  string `yaml:"transfer_tsig_secret"   mapstructure:"transfer_tsig_secret"   json:"-"`
}

// CacheConfig controls response caching, serve-stale, and prefetch behavior.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries" json:"max_entries"`

	// ServeStale allows expired cache entries to be returned (within
	// MaxStaleAge of their expiry) when all upstreams are unreachable.
	ServeStale  bool   `yaml:"serve_stale"   mapstructure:"serve_stale"   json:"serve_stale"`
	MaxStaleAge string `yaml:"max_stale_age" mapstructure:"max_stale_age" json:"max_stale_age"`

	// Prefetch refreshes popular entries shortly before they expire so
	// clients rarely observe a cache miss for hot names.
	PrefetchEnabled     bool   `yaml:"prefetch_enabled"      mapstructure:"prefetch_enabled"      json:"prefetch_enabled"`
	PrefetchWindow      string `yaml:"prefetch_window"       mapstructure:"prefetch_window"       json:"prefetch_window"`
	PrefetchMinAccesses int64  `yaml:"prefetch_min_accesses" mapstructure:"prefetch_min_accesses" json:"prefetch_min_accesses"`
	PrefetchInterval    string `yaml:"prefetch_interval"     mapstructure:"prefetch_interval"     json:"prefetch_interval"`
}

// CustomDNSConfig holds locally-defined DNS overrides: static hostname-to-IP
// mappings and CNAME aliases resolved before any upstream or zone lookup.
type CustomDNSConfig struct {
	Hosts  map[string][]string `yaml:"hosts"  mapstructure:"hosts"  json:"hosts,omitempty"`
	CNAMEs map[string]string   `yaml:"cnames" mapstructure:"cnames" json:"cnames,omitempty"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"             json:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"        json:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"       json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"      json:"extra_fields,omitempty"`
}

// FilteringConfig controls domain filtering (blocklists/whitelists).
type FilteringConfig struct {
	Enabled          bool              `yaml:"enabled"           mapstructure:"enabled"           json:"enabled"`
	LogBlocked       bool              `yaml:"log_blocked"       mapstructure:"log_blocked"       json:"log_blocked"`
	LogAllowed       bool              `yaml:"log_allowed"       mapstructure:"log_allowed"       json:"log_allowed"`
	WhitelistDomains []string          `yaml:"whitelist_domains" mapstructure:"whitelist_domains" json:"whitelist_domains,omitempty"`
	BlacklistDomains []string          `yaml:"blacklist_domains" mapstructure:"blacklist_domains" json:"blacklist_domains,omitempty"`
	Blocklists       []BlocklistConfig `yaml:"blocklists"        mapstructure:"blocklists"        json:"blocklists,omitempty"`
	RefreshInterval  string            `yaml:"refresh_interval"  mapstructure:"refresh_interval"  json:"refresh_interval"`

	// RegexAllowPatterns and RegexBlockPatterns are global regexes evaluated
	// against the full query name, below the global allow/block lists and
	// above the default-allow outcome.
	RegexAllowPatterns []string `yaml:"regex_allow_patterns" mapstructure:"regex_allow_patterns" json:"regex_allow_patterns,omitempty"`
	RegexBlockPatterns []string `yaml:"regex_block_patterns" mapstructure:"regex_block_patterns" json:"regex_block_patterns,omitempty"`

	// ClientRules and GroupRules key the per-client/per-group allow+block
	// overlay tiers by client source IP and group id respectively.
	ClientRules map[string]ClientRuleConfig `yaml:"client_rules" mapstructure:"client_rules" json:"client_rules,omitempty"`
	GroupRules  map[string]GroupRuleConfig  `yaml:"group_rules"  mapstructure:"group_rules"  json:"group_rules,omitempty"`
}

// ClientRuleConfig is one client's allow/block overlay and group memberships.
type ClientRuleConfig struct {
	Allow  []string `yaml:"allow"  mapstructure:"allow"  json:"allow,omitempty"`
	Block  []string `yaml:"block"  mapstructure:"block"  json:"block,omitempty"`
	Groups []string `yaml:"groups" mapstructure:"groups" json:"groups,omitempty"`
}

// GroupRuleConfig is one group's allow/block overlay.
type GroupRuleConfig struct {
	Allow []string `yaml:"allow" mapstructure:"allow" json:"allow,omitempty"`
	Block []string `yaml:"block" mapstructure:"block" json:"block,omitempty"`
}

// BlocklistConfig defines a remote blocklist source.
type BlocklistConfig struct {
	Name   string `yaml:"name"   mapstructure:"name"   json:"name"`
	URL    string `yaml:"url"    mapstructure:"url"    json:"url"`
	Format string `yaml:"format" mapstructure:"format" json:"format"` // "auto", "adblock", "hosts", "domains"
}

// RateLimitConfig controls rate limiting settings.
type RateLimitConfig struct {
	// CleanupSeconds is how often stale entries are cleaned up (default: 60)
	CleanupSeconds float64 `yaml:"cleanup_seconds"    mapstructure:"cleanup_seconds"    json:"cleanup_seconds"`
	// MaxIPEntries is the maximum number of tracked IPs (default: 65536)
	MaxIPEntries int `yaml:"max_ip_entries"     mapstructure:"max_ip_entries"     json:"max_ip_entries"`
	// MaxPrefixEntries is the maximum number of tracked prefixes (default: 16384)
	MaxPrefixEntries int `yaml:"max_prefix_entries" mapstructure:"max_prefix_entries" json:"max_prefix_entries"`
	// GlobalQPS is the server-wide queries per second limit (default: 100000, 0 = disabled)
	GlobalQPS float64 `yaml:"global_qps"         mapstructure:"global_qps"         json:"global_qps"`
	// GlobalBurst is the global burst size (default: 100000)
	GlobalBurst int `yaml:"global_burst"       mapstructure:"global_burst"       json:"global_burst"`
	// PrefixQPS is the per-prefix QPS limit (default: 10000, 0 = disabled)
	PrefixQPS float64 `yaml:"prefix_qps"         mapstructure:"prefix_qps"         json:"prefix_qps"`
	// PrefixBurst is the per-prefix burst size (default: 20000)
	PrefixBurst int `yaml:"prefix_burst"       mapstructure:"prefix_burst"       json:"prefix_burst"`
	// IPQPS is the per-IP QPS limit (default: 5000, 0 = disabled)
	IPQPS float64 `yaml:"ip_qps"             mapstructure:"ip_qps"             json:"ip_qps"`
	// IPBurst is the per-IP burst size (default: 10000)
	IPBurst int `yaml:"ip_burst"           mapstructure:"ip_burst"           json:"ip_burst"`
}

// TLSConfig controls the optional DNS-over-TLS and DNS-over-HTTPS listeners.
// Both share one certificate/key pair; either can be enabled independently.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" mapstructure:"cert_file" json:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file"  mapstructure:"key_file"  json:"key_file,omitempty"`

	EnableDoT bool `yaml:"enable_dot" mapstructure:"enable_dot" json:"enable_dot"`
	DoTPort   int  `yaml:"dot_port"   mapstructure:"dot_port"   json:"dot_port"`

	EnableDoH bool   `yaml:"enable_doh" mapstructure:"enable_doh" json:"enable_doh"`
	DoHPort   int    `yaml:"doh_port"   mapstructure:"doh_port"   json:"doh_port"`
	DoHPath   string `yaml:"doh_path"   mapstructure:"doh_path"   json:"doh_path"`
}

// SlidingWindowConfig controls the per-client query-budget limiter, applied
// inside the query pipeline in addition to (not instead of) RateLimitConfig's
// token buckets.
type SlidingWindowConfig struct {
	Enabled bool `yaml:"enabled"        mapstructure:"enabled"        json:"enabled"`
	// MaxQueries is how many queries a single client may issue per window (default: 500)
	MaxQueries int `yaml:"max_queries"    mapstructure:"max_queries"    json:"max_queries"`
	// WindowSeconds is the width of the sliding window (default: 10)
	WindowSeconds float64 `yaml:"window_seconds" mapstructure:"window_seconds" json:"window_seconds"`
}

// APIConfig contains management API settings.
//
// Note: APIKey is intentionally treated as a secret and should not be returned by API endpoints.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"     mapstructure:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"   mapstructure:"upstream"`
	Zones     ZonesConfig     `yaml:"zones"      mapstructure:"zones"`
	Cache     CacheConfig     `yaml:"cache"      mapstructure:"cache"`
	CustomDNS CustomDNSConfig `yaml:"custom_dns" mapstructure:"custom_dns"`
	Logging   LoggingConfig   `yaml:"logging"    mapstructure:"logging"`
	Filtering FilteringConfig `yaml:"filtering"  mapstructure:"filtering"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	API       APIConfig       `yaml:"api"        mapstructure:"api"`
	TLS       TLSConfig       `yaml:"tls"        mapstructure:"tls"`

	SlidingWindow SlidingWindowConfig `yaml:"sliding_window" mapstructure:"sliding_window"`
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("HYDRADNS_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable overrides.
// This is the main entry point for loading configuration.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (HYDRADNS_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
