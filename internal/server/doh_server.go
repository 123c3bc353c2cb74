package server

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/hydradns/internal/dns"
)

// maxDoHMessageSize mirrors maxTCPMessageSize: DoH carries the same wire
// format, just over HTTP instead of a length-prefixed TCP stream.
const maxDoHMessageSize = 65535

// DoHServer serves DNS-over-HTTPS (RFC 8484) on a single path, accepting
// the GET (base64url "dns" query parameter) and POST
// (application/dns-message body) wire-format forms, plus the JSON form
// (as popularized by the Google/Cloudflare DoH JSON APIs) for clients
// sending "Accept: application/dns-json" or a plain GET with ?name=.
//
// It runs its own gin.Engine, mirroring how the admin API is wired, rather
// than sharing the admin API's engine: the two serve on different ports
// with different concerns (one public-facing resolver endpoint vs. an
// authenticated management surface).
type DoHServer struct {
	Logger  *slog.Logger
	Handler *QueryHandler
	Path    string // e.g. "/dns-query"

	TLSConfig *tls.Config

	httpServer *http.Server
}

// Run starts the DoH listener and blocks until ctx is cancelled.
func (s *DoHServer) Run(ctx context.Context, addr string) error {
	path := s.Path
	if path == "" {
		path = "/dns-query"
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Accept")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	engine.Any(path, s.handleQuery)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      engine,
		TLSConfig:    s.TLSConfig,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	tlsLn := tls.NewListener(ln, s.TLSConfig)

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(tlsLn) }()

	select {
	case <-ctx.Done():
		return s.Stop(5 * time.Second)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Stop gracefully shuts down the DoH listener.
func (s *DoHServer) Stop(timeout time.Duration) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// handleQuery dispatches to the wire-format or JSON handler depending on
// the request's Accept header and query parameters.
func (s *DoHServer) handleQuery(c *gin.Context) {
	if wantsJSON(c.Request) {
		s.handleJSONQuery(c)
		return
	}
	s.handleWireQuery(c)
}

// wantsJSON reports whether the request should be answered with the
// DNS-JSON form rather than raw wire format: either the client asked for
// application/dns-json explicitly, or it's a browser-style GET carrying
// "name" instead of the base64url "dns" parameter.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/dns-json") {
		return true
	}
	return r.Method == http.MethodGet && r.URL.Query().Get("dns") == "" && r.URL.Query().Get("name") != ""
}

func (s *DoHServer) handleWireQuery(c *gin.Context) {
	var reqBytes []byte
	var err error

	switch c.Request.Method {
	case http.MethodGet:
		reqBytes, err = base64.RawURLEncoding.DecodeString(c.Query("dns"))
		if err != nil || len(reqBytes) == 0 {
			c.String(http.StatusBadRequest, "missing or invalid dns query parameter")
			return
		}
	case http.MethodPost:
		if c.GetHeader("Content-Type") != "application/dns-message" {
			c.String(http.StatusUnsupportedMediaType, "unsupported content type")
			return
		}
		reqBytes, err = io.ReadAll(io.LimitReader(c.Request.Body, maxDoHMessageSize+1))
		if err != nil {
			c.String(http.StatusBadRequest, "failed to read body")
			return
		}
	default:
		c.Status(http.StatusMethodNotAllowed)
		return
	}

	if len(reqBytes) > maxDoHMessageSize {
		c.String(http.StatusRequestEntityTooLarge, "query too large")
		return
	}

	result := s.Handler.Handle(c.Request.Context(), "doh", dohClientIP(c.Request), reqBytes)
	if len(result.ResponseBytes) == 0 {
		c.String(http.StatusBadGateway, "resolution failed")
		return
	}

	c.Header("Cache-Control", dohCacheControl(result.ResponseBytes))
	c.Data(http.StatusOK, "application/dns-message", result.ResponseBytes)
}

// dohJSONQuestion and dohJSONAnswer mirror the de facto DNS-JSON schema
// (Google's dns-json shape): minimal, numeric record types, string-formatted
// rdata.
type dohJSONQuestion struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
}

type dohJSONAnswer struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
	TTL  uint32 `json:"TTL"`
	Data string `json:"data"`
}

type dohJSONResponse struct {
	Status   int               `json:"Status"`
	TC       bool              `json:"TC"`
	RD       bool              `json:"RD"`
	RA       bool              `json:"RA"`
	AD       bool              `json:"AD"`
	CD       bool              `json:"CD"`
	Question []dohJSONQuestion `json:"Question"`
	Answer   []dohJSONAnswer   `json:"Answer,omitempty"`
}

// handleJSONQuery implements the GET ?name=&type= form, building a synthetic
// wire-format query from the parameters, running it through the same
// resolver chain as the binary path, and rendering the response as JSON.
func (s *DoHServer) handleJSONQuery(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.String(http.StatusBadRequest, "missing name parameter")
		return
	}

	qtype := uint16(dns.TypeA)
	if t := c.Query("type"); t != "" {
		if n, err := strconv.ParseUint(t, 10, 16); err == nil {
			qtype = uint16(n)
		} else if mapped, ok := jsonRecordTypeByName[strings.ToUpper(t)]; ok {
			qtype = mapped
		}
	}

	query := dns.Packet{
		Header:    dns.Header{ID: 1, Flags: dns.RDFlag},
		Questions: []dns.Question{{Name: name, Type: qtype, Class: uint16(dns.ClassIN)}},
	}
	reqBytes, err := query.Marshal()
	if err != nil {
		c.String(http.StatusBadRequest, "failed to build query")
		return
	}

	result := s.Handler.Handle(c.Request.Context(), "doh", dohClientIP(c.Request), reqBytes)
	if len(result.ResponseBytes) == 0 {
		c.String(http.StatusBadGateway, "resolution failed")
		return
	}

	parsed, perr := dns.ParsePacket(result.ResponseBytes)
	resp := dohJSONResponse{Status: int(dns.RCodeServFail)}
	if perr == nil {
		resp.Status = int(dns.RCodeFromFlags(parsed.Header.Flags))
		resp.TC = parsed.Header.Flags&dns.TCFlag != 0
		resp.RD = parsed.Header.Flags&dns.RDFlag != 0
		resp.RA = parsed.Header.Flags&dns.RAFlag != 0
		resp.AD = parsed.Header.Flags&dns.ADFlag != 0
		resp.CD = parsed.Header.Flags&dns.CDFlag != 0
		for _, q := range parsed.Questions {
			resp.Question = append(resp.Question, dohJSONQuestion{Name: q.Name, Type: q.Type})
		}
		resp.Answer = make([]dohJSONAnswer, 0, len(parsed.Answers))
		for _, rr := range parsed.Answers {
			resp.Answer = append(resp.Answer, dohJSONAnswer{
				Name: rr.Name, Type: rr.Type, TTL: rr.TTL, Data: fmt.Sprintf("%v", rr.Data),
			})
		}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to encode response")
		return
	}

	c.Header("Cache-Control", dohCacheControl(result.ResponseBytes))
	c.Data(http.StatusOK, "application/dns-json", body)
}

var jsonRecordTypeByName = map[string]uint16{
	"A": uint16(dns.TypeA), "AAAA": uint16(dns.TypeAAAA), "NS": uint16(dns.TypeNS),
	"CNAME": uint16(dns.TypeCNAME), "SOA": uint16(dns.TypeSOA), "PTR": uint16(dns.TypePTR),
	"MX": uint16(dns.TypeMX), "TXT": uint16(dns.TypeTXT), "SRV": uint16(dns.TypeSRV),
}

// dohCacheControl derives a max-age from the lowest TTL in the response, per
// RFC 8484 section 5.1; falls back to no-store for unparsable or empty
// responses so nothing gets cached on a failure path.
func dohCacheControl(respBytes []byte) string {
	parsed, err := dns.ParsePacket(respBytes)
	if err != nil || len(parsed.Answers) == 0 {
		return "no-cache, no-store, must-revalidate"
	}
	minTTL := parsed.Answers[0].TTL
	for _, rr := range parsed.Answers[1:] {
		if rr.TTL < minTTL {
			minTTL = rr.TTL
		}
	}
	return fmt.Sprintf("max-age=%d", minTTL)
}

// dohClientIP extracts the originating client IP, preferring proxy headers
// over the direct TCP peer since DoH is commonly fronted by a CDN or
// reverse proxy terminating TLS on its behalf.
func dohClientIP(r *http.Request) string {
	for _, header := range []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP"} {
		if v := r.Header.Get(header); v != "" {
			if comma := strings.IndexByte(v, ','); comma >= 0 {
				v = v[:comma]
			}
			return strings.TrimSpace(v)
		}
	}
	return hostOnly(r.RemoteAddr)
}

// hostOnly strips the port from an address string, tolerating inputs that
// have no port (e.g. r.RemoteAddr in test harnesses).
func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
