// Package dnswire implements a minimal DNS wire-format codec for the proxy
// pipeline. Messages keep their original raw bytes next to the parsed view;
// the only field ever rewritten is the 2-byte transaction ID, so a forwarded
// datagram stays byte-identical to what the client or upstream produced.
package dnswire

import (
	"encoding/binary"
	"errors"
	"strings"
)

const (
	// HeaderLen is the fixed DNS header size.
	HeaderLen = 12
	// MaxMsgSize is the largest datagram the codec accepts.
	MaxMsgSize = 65535

	// maxPointerChase bounds compression pointer chains against loops.
	maxPointerChase = 16
	// maxNameLen is the wire limit for a domain name.
	maxNameLen = 255
)

var (
	// ErrShortMessage means the payload is smaller than a DNS header.
	ErrShortMessage = errors.New("dnswire: message shorter than header")
	// ErrTruncated means declared counts or lengths exceed the remaining bytes.
	ErrTruncated = errors.New("dnswire: message truncated")
	// ErrBadPointer means a compression pointer references bytes not yet parsed.
	ErrBadPointer = errors.New("dnswire: compression pointer out of range")
	// ErrPointerLoop means a compression pointer chain exceeded the chase ceiling.
	ErrPointerLoop = errors.New("dnswire: compression pointer loop")
	// ErrNameTooLong means an expanded name exceeds the 255 byte limit.
	ErrNameTooLong = errors.New("dnswire: name too long")
	// ErrBadLabel means a label carries a reserved type bit pattern.
	ErrBadLabel = errors.New("dnswire: bad label type")
)

// Header is the parsed view of the fixed DNS header.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Response reports whether the QR bit is set.
func (h Header) Response() bool { return h.Flags&0x8000 != 0 }

// Opcode returns the header opcode bits.
func (h Header) Opcode() uint8 { return uint8(h.Flags >> 11 & 0xF) }

// Rcode returns the header response code bits.
func (h Header) Rcode() uint8 { return uint8(h.Flags & 0xF) }

// Question is a single entry of the question section.
type Question struct {
	Name   string
	Qtype  uint16
	Qclass uint16
}

// RR is the parsed envelope of a resource record. Data is the raw rdata,
// uninterpreted; the proxy never needs to look inside it.
type RR struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	Data  []byte
}

// Msg is a decoded DNS message. The struct view is read-only after decode;
// SetID is the single permitted mutation and patches the retained raw bytes
// in place.
type Msg struct {
	Header   Header
	Question []Question
	Answer   []RR
	Ns       []RR
	Extra    []RR

	raw []byte
}

// Decode parses buf into a message. The returned message retains buf, so the
// caller must not reuse the slice afterwards.
func Decode(buf []byte) (*Msg, error) {
	if len(buf) < HeaderLen {
		return nil, ErrShortMessage
	}
	if len(buf) > MaxMsgSize {
		return nil, ErrTruncated
	}

	m := &Msg{raw: buf}
	m.Header = unpackHeader(buf)

	// Each question needs at least 5 bytes, each record at least 11.
	records := int(m.Header.ANCount) + int(m.Header.NSCount) + int(m.Header.ARCount)
	if int(m.Header.QDCount)*5+records*11 > len(buf)-HeaderLen {
		return nil, ErrTruncated
	}

	d := &decoder{buf: buf, off: HeaderLen}

	for i := 0; i < int(m.Header.QDCount); i++ {
		q, err := d.question()
		if err != nil {
			return nil, err
		}
		m.Question = append(m.Question, q)
	}

	var err error
	if m.Answer, err = d.records(int(m.Header.ANCount)); err != nil {
		return nil, err
	}
	if m.Ns, err = d.records(int(m.Header.NSCount)); err != nil {
		return nil, err
	}
	if m.Extra, err = d.records(int(m.Header.ARCount)); err != nil {
		return nil, err
	}

	return m, nil
}

// ID returns the message transaction ID.
func (m *Msg) ID() uint16 { return m.Header.ID }

// SetID rewrites the transaction ID in the retained raw bytes. Nothing else
// in the buffer changes.
func (m *Msg) SetID(id uint16) {
	binary.BigEndian.PutUint16(m.raw[:2], id)
	m.Header.ID = id
}

// Bytes returns the wire bytes of the message, reflecting any SetID call.
func (m *Msg) Bytes() []byte { return m.raw }

// QName returns the normalized name of the first question. The second return
// is false when the question section is empty.
func (m *Msg) QName() (string, bool) {
	if len(m.Question) == 0 {
		return "", false
	}
	return Normalize(m.Question[0].Name), true
}

// UnpackID reads only the transaction ID from a raw payload. The response
// path peeks the ID before deciding whether the rest is worth anything.
func UnpackID(buf []byte) (uint16, error) {
	if len(buf) < HeaderLen {
		return 0, ErrShortMessage
	}
	return binary.BigEndian.Uint16(buf[:2]), nil
}

// PatchID rewrites the transaction ID of a raw payload in place.
func PatchID(buf []byte, id uint16) error {
	if len(buf) < HeaderLen {
		return ErrShortMessage
	}
	binary.BigEndian.PutUint16(buf[:2], id)
	return nil
}

// Normalize returns the comparison form of a domain name: lower-case with the
// trailing dot stripped.
func Normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".")
}

func unpackHeader(buf []byte) Header {
	return Header{
		ID:      binary.BigEndian.Uint16(buf[0:2]),
		Flags:   binary.BigEndian.Uint16(buf[2:4]),
		QDCount: binary.BigEndian.Uint16(buf[4:6]),
		ANCount: binary.BigEndian.Uint16(buf[6:8]),
		NSCount: binary.BigEndian.Uint16(buf[8:10]),
		ARCount: binary.BigEndian.Uint16(buf[10:12]),
	}
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) uint16() (uint16, error) {
	if d.off+2 > len(d.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint16(d.buf[d.off : d.off+2])
	d.off += 2
	return v, nil
}

func (d *decoder) uint32() (uint32, error) {
	if d.off+4 > len(d.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(d.buf[d.off : d.off+4])
	d.off += 4
	return v, nil
}

// name expands a possibly compressed domain name starting at the current
// offset. Pointers may only reference earlier bytes and chains are bounded,
// so hostile loops fail instead of spinning.
func (d *decoder) name() (string, error) {
	var sb strings.Builder

	off := d.off
	jumps := 0
	jumped := false

	for {
		if off >= len(d.buf) {
			return "", ErrTruncated
		}

		b := d.buf[off]
		switch {
		case b&0xC0 == 0xC0:
			if off+2 > len(d.buf) {
				return "", ErrTruncated
			}
			jumps++
			if jumps > maxPointerChase {
				return "", ErrPointerLoop
			}

			target := int(binary.BigEndian.Uint16(d.buf[off:off+2]) & 0x3FFF)
			if target >= off {
				return "", ErrBadPointer
			}
			if !jumped {
				d.off = off + 2
				jumped = true
			}
			off = target

		case b&0xC0 != 0:
			return "", ErrBadLabel

		case b == 0:
			if !jumped {
				d.off = off + 1
			}
			if sb.Len() == 0 {
				return ".", nil
			}
			return sb.String(), nil

		default:
			l := int(b)
			if off+1+l > len(d.buf) {
				return "", ErrTruncated
			}
			if sb.Len()+l+1 > maxNameLen {
				return "", ErrNameTooLong
			}
			sb.Write(d.buf[off+1 : off+1+l])
			sb.WriteByte('.')
			off += 1 + l
		}
	}
}

func (d *decoder) question() (Question, error) {
	var q Question
	var err error

	if q.Name, err = d.name(); err != nil {
		return q, err
	}
	if q.Qtype, err = d.uint16(); err != nil {
		return q, err
	}
	if q.Qclass, err = d.uint16(); err != nil {
		return q, err
	}

	return q, nil
}

func (d *decoder) records(count int) ([]RR, error) {
	if count == 0 {
		return nil, nil
	}

	rrs := make([]RR, 0, count)
	for i := 0; i < count; i++ {
		var rr RR
		var err error

		if rr.Name, err = d.name(); err != nil {
			return nil, err
		}
		if rr.Type, err = d.uint16(); err != nil {
			return nil, err
		}
		if rr.Class, err = d.uint16(); err != nil {
			return nil, err
		}
		if rr.TTL, err = d.uint32(); err != nil {
			return nil, err
		}

		rdlen, err := d.uint16()
		if err != nil {
			return nil, err
		}
		if d.off+int(rdlen) > len(d.buf) {
			return nil, ErrTruncated
		}
		rr.Data = d.buf[d.off : d.off+int(rdlen)]
		d.off += int(rdlen)

		rrs = append(rrs, rr)
	}

	return rrs, nil
}
