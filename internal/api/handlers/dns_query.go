package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/hydradns/internal/api/models"
	"github.com/jroosing/hydradns/internal/dns"
)

// recordTypeByName maps the query-type names the admin API accepts to their
// wire values. An empty type means A; names not listed here are rejected.
var recordTypeByName = map[string]dns.RecordType{
	"A":     dns.TypeA,
	"AAAA":  dns.TypeAAAA,
	"NS":    dns.TypeNS,
	"CNAME": dns.TypeCNAME,
	"SOA":   dns.TypeSOA,
	"PTR":   dns.TypePTR,
	"MX":    dns.TypeMX,
	"TXT":   dns.TypeTXT,
	"SRV":   dns.TypeSRV,
	"TLSA":  dns.TypeTLSA,
	"SVCB":  dns.TypeSVCB,
	"HTTPS": dns.TypeHTTPS,
}

var recordTypeNames = func() map[uint16]string {
	m := make(map[uint16]string, len(recordTypeByName))
	for name, t := range recordTypeByName {
		m[uint16(t)] = name
	}
	return m
}()

// TestQuery godoc
// @Summary Run a test DNS query
// @Description Resolves a query through the live resolver chain as if it came from a client at 127.0.0.1, without needing a separate DNS client.
// @Tags system
// @Accept json
// @Produce json
// @Param query body models.DNSTestRequest true "Query to resolve"
// @Success 200 {object} models.DNSTestResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /dns/test [post]
func (h *Handler) TestQuery(c *gin.Context) {
	var req models.DNSTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	testFn := h.GetDNSTestFunc()
	if testFn == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "dns resolver not ready"})
		return
	}

	typeName := strings.ToUpper(strings.TrimSpace(req.Type))
	if typeName == "" {
		typeName = "A"
	}
	qtype, ok := recordTypeByName[typeName]
	if !ok {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "unsupported query type: " + req.Type})
		return
	}

	query := dns.Packet{
		Header: dns.Header{ID: 1, Flags: dns.RDFlag},
		Questions: []dns.Question{
			{Name: req.Name, Type: uint16(qtype), Class: uint16(dns.ClassIN)},
		},
	}
	reqBytes, err := query.Marshal()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to build query: " + err.Error()})
		return
	}

	start := time.Now()
	result, err := testFn(c.Request.Context(), reqBytes)
	elapsed := time.Since(start)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: err.Error()})
		return
	}

	resp := models.DNSTestResponse{
		Name:       req.Name,
		Type:       typeName,
		Source:     result.Source,
		DurationMs: float64(elapsed.Microseconds()) / 1000.0,
		RCode:      "SERVFAIL",
	}

	parsed, perr := dns.ParsePacket(result.ResponseBytes)
	if perr == nil {
		resp.RCode = rcodeName(dns.RCodeFromFlags(parsed.Header.Flags))
		resp.Answers = make([]string, 0, len(parsed.Answers))
		for _, rr := range parsed.Answers {
			typeStr := recordTypeNames[rr.Type]
			if typeStr == "" {
				typeStr = formatRecordType(rr.Type)
			}
			resp.Answers = append(resp.Answers, typeStr+" "+formatRData(rr.Data))
		}
	}

	c.JSON(http.StatusOK, resp)
}

func rcodeName(rc dns.RCode) string {
	switch rc {
	case dns.RCodeNoError:
		return "NOERROR"
	case dns.RCodeFormErr:
		return "FORMERR"
	case dns.RCodeServFail:
		return "SERVFAIL"
	case dns.RCodeNXDomain:
		return "NXDOMAIN"
	case dns.RCodeNotImp:
		return "NOTIMP"
	case dns.RCodeRefused:
		return "REFUSED"
	default:
		return "UNKNOWN"
	}
}
