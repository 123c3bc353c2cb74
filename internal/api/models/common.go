// Package models defines request and response types for the HydraDNS REST API.
// All types are JSON-serializable and include validation tags where appropriate.
package models

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse represents a simple status response.
type StatusResponse struct {
	Status string `json:"status"`
}

// ListenerStatusResponse reports whether each DNS transport is currently
// accepting traffic.
type ListenerStatusResponse struct {
	UDP bool `json:"udp"`
	TCP bool `json:"tcp"`
	DoT bool `json:"dot"`
	DoH bool `json:"doh"`
}

// HealthResponse is the richer health payload: overall status plus the
// signals it was derived from, so monitoring can see why a degraded/unhealthy
// verdict was reached without a second round-trip to /stats.
type HealthResponse struct {
	Status    string                 `json:"status"` // healthy, degraded, unhealthy
	UptimeMs  int64                  `json:"uptime_ms"`
	QPS       float64                `json:"qps"`
	ErrorRate float64                `json:"error_rate"`
	Servers   ListenerStatusResponse `json:"servers"`
}
