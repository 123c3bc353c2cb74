package resolvers

import (
	"context"
	"strings"

	"github.com/jroosing/hydradns/internal/dns"
)

// ConditionalRoute pairs a domain suffix with the resolver that should
// handle queries for it, e.g. forwarding "corp.example.com" queries to an
// internal resolver while everything else goes to the public upstream pool.
type ConditionalRoute struct {
	Suffix   string
	Resolver Resolver
}

// ConditionalForwarder routes a query to the resolver registered for the
// longest matching domain suffix, falling back to Default when no rule
// matches. Longest-suffix-wins lets a narrower rule (e.g. "internal.corp.com")
// override a broader one (e.g. "corp.com") without ordering rules by hand.
type ConditionalForwarder struct {
	routes  []ConditionalRoute
	Default Resolver
}

// NewConditionalForwarder builds a forwarder from a set of suffix rules and
// a default resolver used when no suffix matches. Rules are sorted so
// longest-suffix-wins can be found with a single linear scan.
func NewConditionalForwarder(routes []ConditionalRoute, def Resolver) *ConditionalForwarder {
	sorted := make([]ConditionalRoute, len(routes))
	copy(sorted, routes)
	for i := range sorted {
		sorted[i].Suffix = normalizeSuffix(sorted[i].Suffix)
	}
	// Longest suffix first so the first match found is the most specific one.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && len(sorted[j].Suffix) > len(sorted[j-1].Suffix); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return &ConditionalForwarder{routes: sorted, Default: def}
}

func normalizeSuffix(s string) string {
	return strings.ToLower(strings.TrimSuffix(s, "."))
}

// Resolve dispatches to the most specific matching route's resolver, or
// Default if no suffix matches the query name.
func (c *ConditionalForwarder) Resolve(ctx context.Context, req dns.Packet, reqBytes []byte) (Result, error) {
	r := c.Default
	if len(req.Questions) > 0 {
		name := normalizeSuffix(req.Questions[0].Name)
		for _, route := range c.routes {
			if name == route.Suffix || strings.HasSuffix(name, "."+route.Suffix) {
				r = route.Resolver
				break
			}
		}
	}
	if r == nil {
		return Result{}, errNoConditionalRoute
	}
	return r.Resolve(ctx, req, reqBytes)
}

// Close closes every route's resolver plus Default, deduplicating resolvers
// shared across multiple routes so they aren't closed twice.
func (c *ConditionalForwarder) Close() error {
	seen := map[Resolver]bool{}
	var lastErr error
	closeOnce := func(r Resolver) {
		if r == nil || seen[r] {
			return
		}
		seen[r] = true
		if err := r.Close(); err != nil {
			lastErr = err
		}
	}
	for _, route := range c.routes {
		closeOnce(route.Resolver)
	}
	closeOnce(c.Default)
	return lastErr
}

var errNoConditionalRoute = noRouteError{}

type noRouteError struct{}

func (noRouteError) Error() string { return "conditional forwarder: no route and no default resolver" }
