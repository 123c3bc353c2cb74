package zone

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/jroosing/hydradns/internal/dns"
	"github.com/jroosing/hydradns/internal/tsig"
)

// maxRecordsPerEnvelope caps how many records go in one AXFR response
// message, keeping each envelope comfortably under the 64KiB TCP message
// limit for zones with large or many-RR rrsets.
const maxRecordsPerEnvelope = 100

// ErrTransferDenied is returned when a transfer request fails ACL or TSIG
// checks.
var ErrTransferDenied = errors.New("zone transfer denied")

// TransferACL gates which clients may AXFR a zone, by source IP and/or a
// required TSIG key name. An ACL with no entries denies everyone; callers
// that want an open zone transfer policy must say so explicitly.
type TransferACL struct {
	AllowedPrefixes []netip.Prefix
	RequiredTSIGKey string // empty means no TSIG key is required
}

// AllowsAddr reports whether addr matches one of the configured prefixes.
// With no prefixes configured, any address passes only when a TSIG key is
// required (TSIG-only gating); an ACL with neither denies every address.
func (a TransferACL) AllowsAddr(addr netip.Addr) bool {
	if len(a.AllowedPrefixes) == 0 {
		return a.RequiredTSIGKey != ""
	}
	for _, p := range a.AllowedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Transfer serves an AXFR (RFC 5936 section 2) for req over conn, an
// already-accepted TCP connection framed with 2-byte length prefixes. key,
// if non-nil, must match acl.RequiredTSIGKey and verify against the
// request's TSIG record.
func Transfer(conn net.Conn, req dns.Packet, reqBytes []byte, z *Zone, acl TransferACL, key *tsig.Key) error {
	remoteIP, _ := hostAddr(conn.RemoteAddr())
	if !acl.AllowsAddr(remoteIP) {
		return fmt.Errorf("%w: source %s not permitted", ErrTransferDenied, remoteIP)
	}
	if acl.RequiredTSIGKey != "" {
		if key == nil || !strings.EqualFold(key.Name, acl.RequiredTSIGKey) {
			return fmt.Errorf("%w: tsig key required", ErrTransferDenied)
		}
		rr, ok := tsig.FindTSIG(req.Additionals)
		if !ok {
			return fmt.Errorf("%w: request not TSIG signed", ErrTransferDenied)
		}
		idx, ok := tsigRecordOffset(reqBytes)
		if !ok {
			return fmt.Errorf("%w: could not locate tsig record in request bytes", ErrTransferDenied)
		}
		if err := tsig.Verify(*key, reqBytes[:idx], rr, req.Header.ID, time.Now()); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferDenied, err)
		}
	}

	soa := z.SOA(req.Questions[0].Class)
	if soa == nil {
		return errors.New("zone has no SOA record, cannot transfer")
	}

	envelopes := buildEnvelopes(z, *soa)
	for _, recs := range envelopes {
		resp := dns.Packet{
			Header:    dns.Header{ID: req.Header.ID, Flags: dns.QRFlag | dns.AAFlag},
			Questions: req.Questions,
			Answers:   recs,
		}
		b, err := resp.Marshal()
		if err != nil {
			return err
		}
		if err := writeFramed(conn, b); err != nil {
			return err
		}
	}
	return nil
}

// buildEnvelopes splits the zone's records into AXFR envelopes. The first
// record of the first envelope and the last record of the last envelope are
// both the zone's SOA, per RFC 5936 section 2.2.
func buildEnvelopes(z *Zone, soa Record) [][]dns.Record {
	soaRR := zoneRecordToDNS(soa)
	rest := make([]dns.Record, 0, len(z.Records))
	for _, rr := range z.Records {
		if rr.Type == uint16(dns.TypeSOA) {
			continue
		}
		rest = append(rest, zoneRecordToDNS(rr))
	}

	var out [][]dns.Record
	cur := []dns.Record{soaRR}
	for _, rr := range rest {
		if len(cur) >= maxRecordsPerEnvelope {
			out = append(out, cur)
			cur = nil
		}
		cur = append(cur, rr)
	}
	cur = append(cur, soaRR)
	out = append(out, cur)
	return out
}

// zoneRecordToDNS converts a zone Record into wire dns.Record, reusing the
// same type-specific transforms as ordinary query answers.
func zoneRecordToDNS(rr Record) dns.Record {
	switch dns.RecordType(rr.Type) {
	case dns.TypeA, dns.TypeAAAA:
		ip := parseIPBytes(rr)
		return dns.Record{Name: rr.Name, Type: rr.Type, Class: rr.Class, TTL: rr.TTL, Data: ip}
	case dns.TypeMX:
		mx := rr.RData.(MX)
		return dns.Record{Name: rr.Name, Type: rr.Type, Class: rr.Class, TTL: rr.TTL, Data: dns.MXData{Preference: mx.Preference, Exchange: mx.Exchange}}
	default:
		return dns.Record{Name: rr.Name, Type: rr.Type, Class: rr.Class, TTL: rr.TTL, Data: rr.RData}
	}
}

func parseIPBytes(rr Record) []byte {
	s, _ := rr.RData.(string)
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		if rr.Type == uint16(dns.TypeA) {
			return []byte{0, 0, 0, 0}
		}
		return make([]byte, 16)
	}
	if rr.Type == uint16(dns.TypeA) {
		b := addr.As4()
		return b[:]
	}
	b := addr.As16()
	return b[:]
}

func writeFramed(conn net.Conn, msg []byte) error {
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(msg)))
	if _, err := conn.Write(lenBuf); err != nil {
		return err
	}
	_, err := conn.Write(msg)
	return err
}

func hostAddr(a net.Addr) (netip.Addr, bool) {
	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		host, _, splitErr := net.SplitHostPort(a.String())
		if splitErr != nil {
			return netip.Addr{}, false
		}
		addr, parseErr := netip.ParseAddr(host)
		if parseErr != nil {
			return netip.Addr{}, false
		}
		return addr, true
	}
	return ap.Addr(), true
}

// tsigRecordOffset walks reqBytes' header-declared sections (questions,
// answers, authorities, additionals) to find the byte offset where the TSIG
// RR begins, so callers can verify the MAC over the message bytes up to
// (not including) the TSIG RR per RFC 2845 section 3.4.1, rather than the
// whole message.
func tsigRecordOffset(reqBytes []byte) (int, bool) {
	off := 0
	hdr, err := dns.ParseHeader(reqBytes, &off)
	if err != nil {
		return 0, false
	}
	for i := 0; i < int(hdr.QDCount); i++ {
		if _, err := dns.ParseQuestion(reqBytes, &off); err != nil {
			return 0, false
		}
	}
	for i := 0; i < int(hdr.ANCount)+int(hdr.NSCount); i++ {
		if _, err := dns.ParseRecord(reqBytes, &off); err != nil {
			return 0, false
		}
	}
	for i := 0; i < int(hdr.ARCount); i++ {
		start := off
		rr, err := dns.ParseRecord(reqBytes, &off)
		if err != nil {
			return 0, false
		}
		if dns.RecordType(rr.Type) == dns.TypeTSIG {
			return start, true
		}
	}
	return 0, false
}
