package models

// DNSTestRequest asks the server to resolve a query as if it came from a
// client, without needing a separate DNS client tool.
type DNSTestRequest struct {
	Name string `json:"name" binding:"required"`
	Type string `json:"type"` // A, AAAA, MX, TXT, ... defaults to A
}

// DNSTestResponse reports the outcome of a test query.
type DNSTestResponse struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	RCode      string   `json:"rcode"`
	Answers    []string `json:"answers"`
	Source     string   `json:"source"`
	DurationMs float64  `json:"duration_ms"`
}
