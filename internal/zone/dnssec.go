package zone

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jroosing/hydradns/internal/dns"
)

// DNSSEC algorithm numbers this zone layer can sign with (RFC 8624 recommended set).
const (
	AlgorithmRSASHA256 uint8 = 8
	AlgorithmED25519   uint8 = 13
)

// DNSKEY flag values (RFC 4034 section 2.1.1).
const (
	ZoneKeyFlagsZSK uint16 = 256
	ZoneKeyFlagsKSK uint16 = 257
)

// SignatureValidity is the window an RRSIG is valid for once minted.
const (
	signatureInceptionSkew = -1 * time.Hour
	signatureValidity      = 30 * 24 * time.Hour
)

// ZoneKey is a signing key for one zone: either a ZSK (flags=256, signs all
// rrsets) or a KSK (flags=257, signs only the DNSKEY rrset).
type ZoneKey struct {
	Zone      string
	Flags     uint16
	Algorithm uint8
	Active    bool
	KeyTag    uint16

	signer    crypto.Signer
	publicKey []byte // DNSKEY rdata public-key field, algorithm-specific encoding
}

// GenerateZoneKey creates a new signing key for zoneOrigin. algorithm must be
// AlgorithmED25519 or AlgorithmRSASHA256.
func GenerateZoneKey(zoneOrigin string, flags uint16, algorithm uint8) (*ZoneKey, error) {
	k := &ZoneKey{Zone: strings.TrimSuffix(zoneOrigin, "."), Flags: flags, Algorithm: algorithm, Active: true}

	switch algorithm {
	case AlgorithmED25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		k.signer = priv
		k.publicKey = []byte(pub)
	case AlgorithmRSASHA256:
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("generate rsa key: %w", err)
		}
		k.signer = priv
		k.publicKey = rsaPublicKeyRDATA(&priv.PublicKey)
	default:
		return nil, fmt.Errorf("unsupported DNSSEC algorithm %d", algorithm)
	}

	k.KeyTag = computeKeyTag(k.dnskeyRDATA())
	return k, nil
}

// rsaPublicKeyRDATA encodes an RSA public key per RFC 3110: exponent length
// prefix (1 or 3 bytes) + exponent + modulus.
func rsaPublicKeyRDATA(pub *rsa.PublicKey) []byte {
	e := big(pub.E)
	n := pub.N.Bytes()
	out := make([]byte, 0, 1+len(e)+len(n))
	if len(e) <= 255 {
		out = append(out, byte(len(e)))
	} else {
		out = append(out, 0)
		lenBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(lenBuf, uint16(len(e)))
		out = append(out, lenBuf...)
	}
	out = append(out, e...)
	out = append(out, n...)
	return out
}

func big(e int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(e))
	i := 0
	for i < 3 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

// dnskeyRDATA builds the wire-format DNSKEY rdata for this key.
func (k *ZoneKey) dnskeyRDATA() []byte {
	out := make([]byte, 4+len(k.publicKey))
	binary.BigEndian.PutUint16(out[0:2], k.Flags)
	out[2] = 3 // protocol, always 3
	out[3] = k.Algorithm
	copy(out[4:], k.publicKey)
	return out
}

// DNSKEYRecord returns the DNSKEY resource record for this key.
func (k *ZoneKey) DNSKEYRecord(ttl uint32) dns.Record {
	return dns.Record{
		Name: k.Zone, Type: uint16(dns.TypeDNSKEY), Class: uint16(dns.ClassIN), TTL: ttl,
		Data: dns.DNSKEYData{Flags: k.Flags, Protocol: 3, Algorithm: k.Algorithm, PublicKey: k.publicKey},
	}
}

// computeKeyTag implements the RFC 4034 Appendix B key-tag algorithm over a
// DNSKEY rdata (not algorithm 1 special-cased, since only 8/13 are used here).
func computeKeyTag(dnskeyRDATA []byte) uint16 {
	var ac uint32
	for i, b := range dnskeyRDATA {
		if i%2 == 0 {
			ac += uint32(b) << 8
		} else {
			ac += uint32(b)
		}
	}
	ac += (ac >> 16) & 0xFFFF
	return uint16(ac & 0xFFFF)
}

// canonicalRRBytes renders one RR in canonical form for RRSIG signing
// (RFC 4034 section 6.2): owner name lower-cased and uncompressed, type,
// class, the RRSIG's original TTL (not the RR's own TTL), rdlength, rdata.
func canonicalRRBytes(owner string, rrType, class uint16, originalTTL uint32, rdata []byte) ([]byte, error) {
	nameWire, err := dns.EncodeName(strings.ToLower(owner))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nameWire)+10+len(rdata))
	out = append(out, nameWire...)
	fixed := make([]byte, 10)
	binary.BigEndian.PutUint16(fixed[0:2], rrType)
	binary.BigEndian.PutUint16(fixed[2:4], class)
	binary.BigEndian.PutUint32(fixed[4:8], originalTTL)
	binary.BigEndian.PutUint16(fixed[8:10], uint16(len(rdata)))
	out = append(out, fixed...)
	out = append(out, rdata...)
	return out, nil
}

// labelCount returns the number of labels in an owner name, per RFC 4034
// section 3.1.3 (a wildcard's leading "*" label is not counted, but this
// zone layer never synthesizes wildcard signatures, so the plain count is
// exact here).
func labelCount(name string) uint8 {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return 0
	}
	return uint8(len(strings.Split(name, ".")))
}

// SignRRset signs one rrset (all records sharing owner/type/class) and
// returns the RRSIG record to attach alongside it. now is injected so the
// result is deterministic in tests.
func (k *ZoneKey) SignRRset(owner string, rrType, class uint16, originalTTL uint32, records []dns.Record, now time.Time) (dns.Record, error) {
	rdatas := make([][]byte, 0, len(records))
	for _, rr := range records {
		b, err := rr.Marshal()
		if err != nil {
			return dns.Record{}, err
		}
		// Marshal() includes the owner-name + fixed header; strip it back
		// off since canonicalRRBytes rebuilds it per RFC 4034 rules.
		nameWire, err := dns.EncodeName(rr.Name)
		if err != nil {
			return dns.Record{}, err
		}
		rdata := b[len(nameWire)+10:]
		canon, err := canonicalRRBytes(owner, rrType, class, originalTTL, rdata)
		if err != nil {
			return dns.Record{}, err
		}
		rdatas = append(rdatas, canon)
	}
	sort.Slice(rdatas, func(i, j int) bool { return bytes.Compare(rdatas[i], rdatas[j]) < 0 })

	inception := now.Add(signatureInceptionSkew)
	expiration := now.Add(signatureValidity)

	sigRdata := dns.RRSIGData{
		TypeCovered: rrType,
		Algorithm:   k.Algorithm,
		Labels:      labelCount(owner),
		OriginalTTL: originalTTL,
		Expiration:  uint32(expiration.Unix()),
		Inception:   uint32(inception.Unix()),
		KeyTag:      k.KeyTag,
		SignerName:  k.Zone,
	}

	signInput, err := buildSignInput(sigRdata, k.Zone)
	if err != nil {
		return dns.Record{}, err
	}
	for _, r := range rdatas {
		signInput = append(signInput, r...)
	}

	sig, err := k.sign(signInput)
	if err != nil {
		return dns.Record{}, err
	}
	sigRdata.Signature = sig

	return dns.Record{Name: owner, Type: uint16(dns.TypeRRSIG), Class: class, TTL: originalTTL, Data: sigRdata}, nil
}

// buildSignInput renders the RRSIG RDATA fields (minus the signature) that
// prefix the signed rrset, per RFC 4034 section 3.1.8.1.
func buildSignInput(r dns.RRSIGData, signer string) ([]byte, error) {
	signerWire, err := dns.EncodeName(signer)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 18, 18+len(signerWire))
	binary.BigEndian.PutUint16(out[0:2], r.TypeCovered)
	out[2] = r.Algorithm
	out[3] = r.Labels
	binary.BigEndian.PutUint32(out[4:8], r.OriginalTTL)
	binary.BigEndian.PutUint32(out[8:12], r.Expiration)
	binary.BigEndian.PutUint32(out[12:16], r.Inception)
	binary.BigEndian.PutUint16(out[16:18], r.KeyTag)
	out = append(out, signerWire...)
	return out, nil
}

func (k *ZoneKey) sign(data []byte) ([]byte, error) {
	switch k.Algorithm {
	case AlgorithmED25519:
		priv, ok := k.signer.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not ed25519")
		}
		return ed25519.Sign(priv, data), nil
	case AlgorithmRSASHA256:
		priv, ok := k.signer.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not rsa")
		}
		digest := sha256.Sum256(data)
		return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	default:
		return nil, fmt.Errorf("unsupported DNSSEC algorithm %d", k.Algorithm)
	}
}

// MarshalPrivateKey serialises the key's private material for ConfigStore
// persistence (PKCS#8, DER).
func (k *ZoneKey) MarshalPrivateKey() ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(k.signer)
}
