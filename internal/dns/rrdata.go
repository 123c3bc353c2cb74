package dns

import (
	"encoding/binary"
	"fmt"
)

// SRVData is the rdata of an SRV record (RFC 2782).
type SRVData struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

// NAPTRData is the rdata of a NAPTR record (RFC 3403).
type NAPTRData struct {
	Order       uint16
	Preference  uint16
	Flags       string
	Services    string
	Regexp      string
	Replacement string
}

// SSHFPData is the rdata of an SSHFP record (RFC 4255).
type SSHFPData struct {
	Algorithm   uint8
	FPType      uint8
	Fingerprint []byte
}

// TLSAData is the rdata of a TLSA record (RFC 6698).
type TLSAData struct {
	Usage        uint8
	Selector     uint8
	MatchingType uint8
	Certificate  []byte
}

// SVCParam is a single key/value pair in an SVCB/HTTPS rdata.
type SVCParam struct {
	Key   uint16
	Value []byte
}

// SVCBData is the rdata shared by SVCB and HTTPS records (RFC 9460).
type SVCBData struct {
	Priority uint16
	Target   string
	Params   []SVCParam
}

// DSData is the rdata of a DS record (RFC 4034).
type DSData struct {
	KeyTag     uint16
	Algorithm  uint8
	DigestType uint8
	Digest     []byte
}

// DNSKEYData is the rdata of a DNSKEY record (RFC 4034).
type DNSKEYData struct {
	Flags     uint16
	Protocol  uint8
	Algorithm uint8
	PublicKey []byte
}

// RRSIGData is the rdata of an RRSIG record (RFC 4034).
type RRSIGData struct {
	TypeCovered uint16
	Algorithm   uint8
	Labels      uint8
	OriginalTTL uint32
	Expiration  uint32
	Inception   uint32
	KeyTag      uint16
	SignerName  string
	Signature   []byte
}

// NSECData is the rdata of an NSEC record (RFC 4034).
type NSECData struct {
	NextDomain string
	TypeBitmap []byte
}

// NSEC3Data is the rdata of an NSEC3 record (RFC 5155).
type NSEC3Data struct {
	HashAlg    uint8
	Flags      uint8
	Iterations uint16
	Salt       []byte
	NextHashed []byte
	TypeBitmap []byte
}

// TSIGData is the rdata of a TSIG pseudo-record (RFC 2845).
type TSIGData struct {
	AlgorithmName string
	TimeSigned    uint64 // 48-bit on the wire
	Fudge         uint16
	MAC           []byte
	OriginalID    uint16
	Error         uint16
	OtherData     []byte
}

func parseExtendedRData(msg []byte, off *int, start int, rdlen int, rrType uint16) (any, bool, error) {
	switch RecordType(rrType) {
	case TypeSRV:
		if *off+6 > len(msg) {
			return nil, true, fmt.Errorf("%w: unexpected EOF reading SRV fields", ErrDNSError)
		}
		prio := binary.BigEndian.Uint16(msg[*off : *off+2])
		weight := binary.BigEndian.Uint16(msg[*off+2 : *off+4])
		port := binary.BigEndian.Uint16(msg[*off+4 : *off+6])
		*off += 6
		target, err := DecodeName(msg, off)
		if err != nil {
			return nil, true, err
		}
		return SRVData{Priority: prio, Weight: weight, Port: port, Target: target}, true, nil
	case TypeDS:
		d, err := parseDSFields(msg, off, start, rdlen)
		return d, true, err
	case TypeDNSKEY:
		d, err := parseDNSKEYFields(msg, off, start, rdlen)
		return d, true, err
	case TypeRRSIG:
		d, err := parseRRSIGFields(msg, off, start, rdlen)
		return d, true, err
	case TypeSSHFP:
		d, err := parseSSHFPFields(msg, off, start, rdlen)
		return d, true, err
	case TypeTLSA:
		d, err := parseTLSAFields(msg, off, start, rdlen)
		return d, true, err
	case TypeNSEC:
		d, err := parseNSECFields(msg, off, start, rdlen)
		return d, true, err
	case TypeNSEC3:
		d, err := parseNSEC3Fields(msg, off, start, rdlen)
		return d, true, err
	case TypeSVCB, TypeHTTPS:
		d, err := parseSVCBFields(msg, off, start, rdlen)
		return d, true, err
	case TypeNAPTR:
		d, err := parseNAPTRFields(msg, off, start, rdlen)
		return d, true, err
	case TypeTSIG:
		d, err := parseTSIGFields(msg, off, start, rdlen)
		return d, true, err
	default:
		return nil, false, nil
	}
}

func parseDSFields(msg []byte, off *int, start, rdlen int) (DSData, error) {
	if rdlen < 4 {
		return DSData{}, fmt.Errorf("%w: DS rdata too short", ErrDNSError)
	}
	keytag := binary.BigEndian.Uint16(msg[*off : *off+2])
	alg := msg[*off+2]
	digType := msg[*off+3]
	digest := make([]byte, rdlen-4)
	copy(digest, msg[*off+4:start+rdlen])
	*off = start + rdlen
	return DSData{KeyTag: keytag, Algorithm: alg, DigestType: digType, Digest: digest}, nil
}

func parseDNSKEYFields(msg []byte, off *int, start, rdlen int) (DNSKEYData, error) {
	if rdlen < 4 {
		return DNSKEYData{}, fmt.Errorf("%w: DNSKEY rdata too short", ErrDNSError)
	}
	flags := binary.BigEndian.Uint16(msg[*off : *off+2])
	proto := msg[*off+2]
	alg := msg[*off+3]
	key := make([]byte, rdlen-4)
	copy(key, msg[*off+4:start+rdlen])
	*off = start + rdlen
	return DNSKEYData{Flags: flags, Protocol: proto, Algorithm: alg, PublicKey: key}, nil
}

func parseRRSIGFields(msg []byte, off *int, start, rdlen int) (RRSIGData, error) {
	if rdlen < 18 {
		return RRSIGData{}, fmt.Errorf("%w: RRSIG rdata too short", ErrDNSError)
	}
	typeCovered := binary.BigEndian.Uint16(msg[*off : *off+2])
	alg := msg[*off+2]
	labels := msg[*off+3]
	origTTL := binary.BigEndian.Uint32(msg[*off+4 : *off+8])
	exp := binary.BigEndian.Uint32(msg[*off+8 : *off+12])
	inc := binary.BigEndian.Uint32(msg[*off+12 : *off+16])
	keytag := binary.BigEndian.Uint16(msg[*off+16 : *off+18])
	nameOff := *off + 18
	signer, err := DecodeName(msg, &nameOff)
	if err != nil {
		return RRSIGData{}, err
	}
	if nameOff > start+rdlen {
		return RRSIGData{}, fmt.Errorf("%w: RRSIG signer name overruns rdata", ErrDNSError)
	}
	sig := make([]byte, start+rdlen-nameOff)
	copy(sig, msg[nameOff:start+rdlen])
	*off = start + rdlen
	return RRSIGData{
		TypeCovered: typeCovered, Algorithm: alg, Labels: labels,
		OriginalTTL: origTTL, Expiration: exp, Inception: inc,
		KeyTag: keytag, SignerName: signer, Signature: sig,
	}, nil
}

func parseSSHFPFields(msg []byte, off *int, start, rdlen int) (SSHFPData, error) {
	if rdlen < 2 {
		return SSHFPData{}, fmt.Errorf("%w: SSHFP rdata too short", ErrDNSError)
	}
	alg := msg[*off]
	fpType := msg[*off+1]
	fp := make([]byte, rdlen-2)
	copy(fp, msg[*off+2:start+rdlen])
	*off = start + rdlen
	return SSHFPData{Algorithm: alg, FPType: fpType, Fingerprint: fp}, nil
}

func parseTLSAFields(msg []byte, off *int, start, rdlen int) (TLSAData, error) {
	if rdlen < 3 {
		return TLSAData{}, fmt.Errorf("%w: TLSA rdata too short", ErrDNSError)
	}
	usage := msg[*off]
	selector := msg[*off+1]
	matching := msg[*off+2]
	cert := make([]byte, rdlen-3)
	copy(cert, msg[*off+3:start+rdlen])
	*off = start + rdlen
	return TLSAData{Usage: usage, Selector: selector, MatchingType: matching, Certificate: cert}, nil
}

func parseNSECFields(msg []byte, off *int, start, rdlen int) (NSECData, error) {
	nameOff := *off
	next, err := DecodeName(msg, &nameOff)
	if err != nil {
		return NSECData{}, err
	}
	if nameOff > start+rdlen {
		return NSECData{}, fmt.Errorf("%w: NSEC next-domain overruns rdata", ErrDNSError)
	}
	bitmap := make([]byte, start+rdlen-nameOff)
	copy(bitmap, msg[nameOff:start+rdlen])
	*off = start + rdlen
	return NSECData{NextDomain: next, TypeBitmap: bitmap}, nil
}

func parseNSEC3Fields(msg []byte, off *int, start, rdlen int) (NSEC3Data, error) {
	if rdlen < 5 {
		return NSEC3Data{}, fmt.Errorf("%w: NSEC3 rdata too short", ErrDNSError)
	}
	p := *off
	hashAlg := msg[p]
	flags := msg[p+1]
	iterations := binary.BigEndian.Uint16(msg[p+2 : p+4])
	saltLen := int(msg[p+4])
	p += 5
	if p+saltLen > start+rdlen {
		return NSEC3Data{}, fmt.Errorf("%w: NSEC3 salt overruns rdata", ErrDNSError)
	}
	salt := make([]byte, saltLen)
	copy(salt, msg[p:p+saltLen])
	p += saltLen
	if p >= start+rdlen {
		return NSEC3Data{}, fmt.Errorf("%w: NSEC3 missing hash length", ErrDNSError)
	}
	hashLen := int(msg[p])
	p++
	if p+hashLen > start+rdlen {
		return NSEC3Data{}, fmt.Errorf("%w: NSEC3 next-hashed overruns rdata", ErrDNSError)
	}
	nextHashed := make([]byte, hashLen)
	copy(nextHashed, msg[p:p+hashLen])
	p += hashLen
	bitmap := make([]byte, start+rdlen-p)
	copy(bitmap, msg[p:start+rdlen])
	*off = start + rdlen
	return NSEC3Data{
		HashAlg: hashAlg, Flags: flags, Iterations: iterations,
		Salt: salt, NextHashed: nextHashed, TypeBitmap: bitmap,
	}, nil
}

func parseSVCBFields(msg []byte, off *int, start, rdlen int) (SVCBData, error) {
	if rdlen < 2 {
		return SVCBData{}, fmt.Errorf("%w: SVCB rdata too short", ErrDNSError)
	}
	prio := binary.BigEndian.Uint16(msg[*off : *off+2])
	nameOff := *off + 2
	target, err := DecodeName(msg, &nameOff)
	if err != nil {
		return SVCBData{}, err
	}
	var params []SVCParam
	p := nameOff
	for p < start+rdlen {
		if p+4 > start+rdlen {
			return SVCBData{}, fmt.Errorf("%w: SVCB param truncated", ErrDNSError)
		}
		key := binary.BigEndian.Uint16(msg[p : p+2])
		vlen := int(binary.BigEndian.Uint16(msg[p+2 : p+4]))
		p += 4
		if p+vlen > start+rdlen {
			return SVCBData{}, fmt.Errorf("%w: SVCB param value truncated", ErrDNSError)
		}
		val := make([]byte, vlen)
		copy(val, msg[p:p+vlen])
		params = append(params, SVCParam{Key: key, Value: val})
		p += vlen
	}
	*off = start + rdlen
	return SVCBData{Priority: prio, Target: target, Params: params}, nil
}

func parseNAPTRFields(msg []byte, off *int, start, rdlen int) (NAPTRData, error) {
	if *off+4 > len(msg) {
		return NAPTRData{}, fmt.Errorf("%w: NAPTR rdata too short", ErrDNSError)
	}
	order := binary.BigEndian.Uint16(msg[*off : *off+2])
	pref := binary.BigEndian.Uint16(msg[*off+2 : *off+4])
	p := *off + 4
	flags, p, err := readCharString(msg, p, start+rdlen)
	if err != nil {
		return NAPTRData{}, err
	}
	services, p, err := readCharString(msg, p, start+rdlen)
	if err != nil {
		return NAPTRData{}, err
	}
	regexp, p, err := readCharString(msg, p, start+rdlen)
	if err != nil {
		return NAPTRData{}, err
	}
	replacement, err := DecodeName(msg, &p)
	if err != nil {
		return NAPTRData{}, err
	}
	*off = start + rdlen
	return NAPTRData{Order: order, Preference: pref, Flags: flags, Services: services, Regexp: regexp, Replacement: replacement}, nil
}

// parseTSIGFields parses the rdata of a TSIG pseudo-record (RFC 2845 section
// 2.3). The algorithm name is encoded as an uncompressed domain name; the
// rest is fixed-width fields plus two length-prefixed byte blobs (MAC, then
// other-data).
func parseTSIGFields(msg []byte, off *int, start, rdlen int) (TSIGData, error) {
	algOff := *off
	alg, err := DecodeName(msg, &algOff)
	if err != nil {
		return TSIGData{}, err
	}
	if alg != "" {
		alg += "." // absolute form, as the tsig package's algorithm constants spell it
	}
	p := algOff
	if p+10 > start+rdlen {
		return TSIGData{}, fmt.Errorf("%w: TSIG rdata too short for fixed fields", ErrDNSError)
	}
	timeSigned := uint64(binary.BigEndian.Uint16(msg[p:p+2]))<<32 | uint64(binary.BigEndian.Uint32(msg[p+2:p+6]))
	fudge := binary.BigEndian.Uint16(msg[p+6 : p+8])
	macSize := int(binary.BigEndian.Uint16(msg[p+8 : p+10]))
	p += 10
	if p+macSize > start+rdlen {
		return TSIGData{}, fmt.Errorf("%w: TSIG MAC overruns rdata", ErrDNSError)
	}
	mac := make([]byte, macSize)
	copy(mac, msg[p:p+macSize])
	p += macSize

	if p+6 > start+rdlen {
		return TSIGData{}, fmt.Errorf("%w: TSIG rdata too short for trailer fields", ErrDNSError)
	}
	originalID := binary.BigEndian.Uint16(msg[p : p+2])
	tsigErr := binary.BigEndian.Uint16(msg[p+2 : p+4])
	otherLen := int(binary.BigEndian.Uint16(msg[p+4 : p+6]))
	p += 6
	if p+otherLen > start+rdlen {
		return TSIGData{}, fmt.Errorf("%w: TSIG other-data overruns rdata", ErrDNSError)
	}
	other := make([]byte, otherLen)
	copy(other, msg[p:p+otherLen])
	p += otherLen

	*off = start + rdlen
	return TSIGData{
		AlgorithmName: alg,
		TimeSigned:    timeSigned,
		Fudge:         fudge,
		MAC:           mac,
		OriginalID:    originalID,
		Error:         tsigErr,
		OtherData:     other,
	}, nil
}

func readCharString(msg []byte, p, limit int) (string, int, error) {
	if p >= limit || p >= len(msg) {
		return "", p, fmt.Errorf("%w: character-string truncated", ErrDNSError)
	}
	n := int(msg[p])
	p++
	if p+n > limit || p+n > len(msg) {
		return "", p, fmt.Errorf("%w: character-string overruns rdata", ErrDNSError)
	}
	s := string(msg[p : p+n])
	return s, p + n, nil
}

func marshalExtendedRData(rrType uint16, data any) ([]byte, bool, error) {
	switch RecordType(rrType) {
	case TypeSRV:
		d, ok := data.(SRVData)
		if !ok {
			return nil, true, fmt.Errorf("%w: SRV record data must be SRVData", ErrDNSError)
		}
		target, err := EncodeName(d.Target)
		if err != nil {
			return nil, true, err
		}
		out := make([]byte, 6, 6+len(target))
		binary.BigEndian.PutUint16(out[0:2], d.Priority)
		binary.BigEndian.PutUint16(out[2:4], d.Weight)
		binary.BigEndian.PutUint16(out[4:6], d.Port)
		out = append(out, target...)
		return out, true, nil
	case TypeDS:
		d, ok := data.(DSData)
		if !ok {
			return nil, true, fmt.Errorf("%w: DS record data must be DSData", ErrDNSError)
		}
		out := make([]byte, 4+len(d.Digest))
		binary.BigEndian.PutUint16(out[0:2], d.KeyTag)
		out[2] = d.Algorithm
		out[3] = d.DigestType
		copy(out[4:], d.Digest)
		return out, true, nil
	case TypeDNSKEY:
		d, ok := data.(DNSKEYData)
		if !ok {
			return nil, true, fmt.Errorf("%w: DNSKEY record data must be DNSKEYData", ErrDNSError)
		}
		out := make([]byte, 4+len(d.PublicKey))
		binary.BigEndian.PutUint16(out[0:2], d.Flags)
		out[2] = d.Protocol
		out[3] = d.Algorithm
		copy(out[4:], d.PublicKey)
		return out, true, nil
	case TypeRRSIG:
		d, ok := data.(RRSIGData)
		if !ok {
			return nil, true, fmt.Errorf("%w: RRSIG record data must be RRSIGData", ErrDNSError)
		}
		signer, err := EncodeName(d.SignerName)
		if err != nil {
			return nil, true, err
		}
		out := make([]byte, 18, 18+len(signer)+len(d.Signature))
		binary.BigEndian.PutUint16(out[0:2], d.TypeCovered)
		out[2] = d.Algorithm
		out[3] = d.Labels
		binary.BigEndian.PutUint32(out[4:8], d.OriginalTTL)
		binary.BigEndian.PutUint32(out[8:12], d.Expiration)
		binary.BigEndian.PutUint32(out[12:16], d.Inception)
		binary.BigEndian.PutUint16(out[16:18], d.KeyTag)
		out = append(out, signer...)
		out = append(out, d.Signature...)
		return out, true, nil
	case TypeSSHFP:
		d, ok := data.(SSHFPData)
		if !ok {
			return nil, true, fmt.Errorf("%w: SSHFP record data must be SSHFPData", ErrDNSError)
		}
		out := make([]byte, 2+len(d.Fingerprint))
		out[0] = d.Algorithm
		out[1] = d.FPType
		copy(out[2:], d.Fingerprint)
		return out, true, nil
	case TypeTLSA:
		d, ok := data.(TLSAData)
		if !ok {
			return nil, true, fmt.Errorf("%w: TLSA record data must be TLSAData", ErrDNSError)
		}
		out := make([]byte, 3+len(d.Certificate))
		out[0] = d.Usage
		out[1] = d.Selector
		out[2] = d.MatchingType
		copy(out[3:], d.Certificate)
		return out, true, nil
	case TypeNSEC:
		d, ok := data.(NSECData)
		if !ok {
			return nil, true, fmt.Errorf("%w: NSEC record data must be NSECData", ErrDNSError)
		}
		next, err := EncodeName(d.NextDomain)
		if err != nil {
			return nil, true, err
		}
		out := append(append([]byte{}, next...), d.TypeBitmap...)
		return out, true, nil
	case TypeNSEC3:
		d, ok := data.(NSEC3Data)
		if !ok {
			return nil, true, fmt.Errorf("%w: NSEC3 record data must be NSEC3Data", ErrDNSError)
		}
		out := make([]byte, 5, 5+len(d.Salt)+1+len(d.NextHashed)+len(d.TypeBitmap))
		out[0] = d.HashAlg
		out[1] = d.Flags
		binary.BigEndian.PutUint16(out[2:4], d.Iterations)
		out[4] = byte(len(d.Salt))
		out = append(out, d.Salt...)
		out = append(out, byte(len(d.NextHashed)))
		out = append(out, d.NextHashed...)
		out = append(out, d.TypeBitmap...)
		return out, true, nil
	case TypeSVCB, TypeHTTPS:
		d, ok := data.(SVCBData)
		if !ok {
			return nil, true, fmt.Errorf("%w: SVCB/HTTPS record data must be SVCBData", ErrDNSError)
		}
		target, err := EncodeName(d.Target)
		if err != nil {
			return nil, true, err
		}
		out := make([]byte, 2, 2+len(target))
		binary.BigEndian.PutUint16(out[0:2], d.Priority)
		out = append(out, target...)
		for _, p := range d.Params {
			head := make([]byte, 4)
			binary.BigEndian.PutUint16(head[0:2], p.Key)
			binary.BigEndian.PutUint16(head[2:4], uint16(len(p.Value)))
			out = append(out, head...)
			out = append(out, p.Value...)
		}
		return out, true, nil
	case TypeNAPTR:
		d, ok := data.(NAPTRData)
		if !ok {
			return nil, true, fmt.Errorf("%w: NAPTR record data must be NAPTRData", ErrDNSError)
		}
		replacement, err := EncodeName(d.Replacement)
		if err != nil {
			return nil, true, err
		}
		out := make([]byte, 4)
		binary.BigEndian.PutUint16(out[0:2], d.Order)
		binary.BigEndian.PutUint16(out[2:4], d.Preference)
		out = appendCharString(out, d.Flags)
		out = appendCharString(out, d.Services)
		out = appendCharString(out, d.Regexp)
		out = append(out, replacement...)
		return out, true, nil
	case TypeTSIG:
		d, ok := data.(TSIGData)
		if !ok {
			return nil, true, fmt.Errorf("%w: TSIG record data must be TSIGData", ErrDNSError)
		}
		alg, err := EncodeName(d.AlgorithmName)
		if err != nil {
			return nil, true, err
		}
		out := make([]byte, 0, len(alg)+10+len(d.MAC)+6+len(d.OtherData))
		out = append(out, alg...)

		fixed := make([]byte, 10)
		binary.BigEndian.PutUint16(fixed[0:2], uint16(d.TimeSigned>>32))
		binary.BigEndian.PutUint32(fixed[2:6], uint32(d.TimeSigned))
		binary.BigEndian.PutUint16(fixed[6:8], d.Fudge)
		binary.BigEndian.PutUint16(fixed[8:10], uint16(len(d.MAC)))
		out = append(out, fixed...)
		out = append(out, d.MAC...)

		trailer := make([]byte, 6)
		binary.BigEndian.PutUint16(trailer[0:2], d.OriginalID)
		binary.BigEndian.PutUint16(trailer[2:4], d.Error)
		binary.BigEndian.PutUint16(trailer[4:6], uint16(len(d.OtherData)))
		out = append(out, trailer...)
		out = append(out, d.OtherData...)
		return out, true, nil
	default:
		return nil, false, nil
	}
}

func appendCharString(out []byte, s string) []byte {
	b := []byte(s)
	if len(b) > 255 {
		b = b[:255]
	}
	out = append(out, byte(len(b)))
	return append(out, b...)
}
