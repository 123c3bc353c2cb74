// Package tsig implements TSIG (RFC 2845) message authentication for zone
// transfer and DNS UPDATE requests.
package tsig

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"hash"
	"strings"
	"time"

	"github.com/jroosing/hydradns/internal/dns"
)

// Algorithm names as they appear on the wire (RFC 4635).
const (
	AlgHMACMD5    = "hmac-md5.sig-alg.reg.int."
	AlgHMACSHA1   = "hmac-sha1."
	AlgHMACSHA256 = "hmac-sha256."
	AlgHMACSHA512 = "hmac-sha512."
)

// TSIG error codes carried in the rdata's Error field (RFC 2845 section 2.3).
const (
	ErrorBadSig   uint16 = 16
	ErrorBadKey   uint16 = 17
	ErrorBadTime  uint16 = 18
	ErrorBadTrunc uint16 = 22
)

// ErrVerify is wrapped by every verification failure.
var ErrVerify = fmt.Errorf("tsig: verification failed")

// Key is a named HMAC secret shared with a peer.
type Key struct {
	Name      string
	Algorithm string
	Secret    []byte
	Enabled   bool
}

func newHash(alg string) (func() hash.Hash, error) {
	switch strings.ToLower(alg) {
	case AlgHMACMD5:
		return md5.New, nil
	case AlgHMACSHA1:
		return sha1.New, nil
	case AlgHMACSHA256, "":
		return sha256.New, nil
	case AlgHMACSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrVerify, alg)
	}
}

// Verify checks the TSIG record rr (type 250) against msgPrefix, the raw
// wire bytes of the message up to (not including) the TSIG RR itself, and
// the original request ID (TSIG covers the ID the request was sent with,
// which on an error response may differ from the reply's own ID). fudge
// seconds of clock skew are tolerated around time-signed.
func Verify(key Key, msgPrefix []byte, rr dns.Record, originalID uint16, now time.Time) error {
	if !key.Enabled {
		return fmt.Errorf("%w: key %q disabled", ErrVerify, key.Name)
	}
	t, ok := rr.Data.(dns.TSIGData)
	if !ok {
		return fmt.Errorf("%w: record is not TSIG rdata", ErrVerify)
	}
	if !strings.EqualFold(t.AlgorithmName, key.Algorithm) {
		return fmt.Errorf("%w: algorithm mismatch", ErrVerify)
	}
	newH, err := newHash(key.Algorithm)
	if err != nil {
		return err
	}

	skew := int64(now.Unix()) - int64(t.TimeSigned)
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(t.Fudge) {
		return fmt.Errorf("%w: time skew %ds exceeds fudge %ds", ErrVerify, skew, t.Fudge)
	}

	mac, err := computeMAC(newH, key.Secret, msgPrefix, rr.Name, t, originalID)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(mac, t.MAC) != 1 {
		return fmt.Errorf("%w: MAC mismatch", ErrVerify)
	}
	return nil
}

// Sign builds a TSIG record for msgPrefix (the wire bytes of the message
// excluding the TSIG RR) using key, stamping TimeSigned as now.
func Sign(key Key, msgPrefix []byte, owner string, originalID uint16, fudge uint16, now time.Time) (dns.Record, error) {
	newH, err := newHash(key.Algorithm)
	if err != nil {
		return dns.Record{}, err
	}
	t := dns.TSIGData{
		AlgorithmName: key.Algorithm,
		TimeSigned:    uint64(now.Unix()),
		Fudge:         fudge,
		OriginalID:    originalID,
	}
	mac, err := computeMAC(newH, key.Secret, msgPrefix, owner, t, originalID)
	if err != nil {
		return dns.Record{}, err
	}
	t.MAC = mac
	return dns.Record{
		Name: owner, Type: uint16(dns.TypeTSIG), Class: uint16(dns.ClassIN), TTL: 0,
		Data: t,
	}, nil
}

// computeMAC reconstructs the RFC 2845 section 3.4.2 signing input: the
// message bytes with originalID in the header's ID field, then the TSIG
// owner name, class IN (the class Sign emits), TTL 0, the algorithm
// name, time-signed (48-bit) + fudge, then error/other-data — all with the
// MAC field itself omitted — and HMACs it with the key secret.
func computeMAC(newH func() hash.Hash, secret []byte, msgPrefix []byte, owner string, t dns.TSIGData, originalID uint16) ([]byte, error) {
	mac := hmac.New(newH, secret)
	if len(msgPrefix) >= 2 {
		var id [2]byte
		binary.BigEndian.PutUint16(id[:], originalID)
		mac.Write(id[:])
		mac.Write(msgPrefix[2:])
	} else {
		mac.Write(msgPrefix)
	}

	ownerWire, err := dns.EncodeName(owner)
	if err != nil {
		return nil, err
	}
	mac.Write(ownerWire)

	fixed := make([]byte, 8)
	binary.BigEndian.PutUint16(fixed[0:2], uint16(dns.ClassIN)) // TSIG RR class is always ANY=255 in RFC2845, but many implementations sign with the class on the wire; this engine always emits class IN consistent with the rest of the message.
	binary.BigEndian.PutUint32(fixed[2:6], 0)                   // TTL
	mac.Write(fixed[:6])

	algWire, err := dns.EncodeName(t.AlgorithmName)
	if err != nil {
		return nil, err
	}
	mac.Write(algWire)

	timeBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(timeBuf, t.TimeSigned)
	mac.Write(timeBuf[2:]) // 48-bit time-signed

	fudgeBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(fudgeBuf, t.Fudge)
	mac.Write(fudgeBuf)

	errOther := make([]byte, 4)
	binary.BigEndian.PutUint16(errOther[0:2], t.Error)
	binary.BigEndian.PutUint16(errOther[2:4], uint16(len(t.OtherData)))
	mac.Write(errOther)
	mac.Write(t.OtherData)

	return mac.Sum(nil), nil
}

// FindTSIG scans additionals for a type-250 record and reports whether one
// was present.
func FindTSIG(additionals []dns.Record) (dns.Record, bool) {
	for _, r := range additionals {
		if dns.RecordType(r.Type) == dns.TypeTSIG {
			return r, true
		}
	}
	return dns.Record{}, false
}
