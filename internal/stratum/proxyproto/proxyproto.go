// Package proxyproto decodes PROXY protocol v1/v2 headers off the front of an
// inbound TCP connection without consuming bytes the caller hasn't asked for,
// so the stratum framer downstream sees only the real client stream.
package proxyproto

import (
	"bufio"
	"encoding/binary"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Detection constants.
const (
	// HeaderPeekSize is enough to recognise either signature without
	// committing to a full header read.
	HeaderPeekSize = 16

	// DetectionTimeout bounds how long header sniffing may block.
	DetectionTimeout = 5 * time.Second

	v1Prefix = "PROXY "
)

// v2Signature is the fixed 12-byte magic that opens every v2 header.
var v2Signature = []byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}

const (
	v2VersionCmdByte byte = 0x21 // version 2, command PROXY
	v2FamilyTCP4     byte = 0x11
	v2FamilyTCP6     byte = 0x21
)

// Errors surfaced by Decode.
var (
	ErrDetectionTimeout = errors.New("proxyproto: header detection timeout")
	ErrMalformedHeader  = errors.New("proxyproto: malformed header")
	ErrUnknownFamily    = errors.New("proxyproto: unrecognised address family")
	ErrConnectionClosed = errors.New("proxyproto: connection closed during detection")
)

// Header carries the source/destination endpoints a PROXY header declared.
// Family is "TCP4", "TCP6", or "UNKNOWN".
type Header struct {
	Family  string
	SrcAddr net.IP
	DstAddr net.IP
	SrcPort int
	DstPort int
}

// PeekableConn wraps a net.Conn, buffering bytes that have been peeked so
// later Reads still see them.
type PeekableConn struct {
	net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewPeekableConn wraps conn in a buffered peekable reader.
func NewPeekableConn(conn net.Conn) *PeekableConn {
	return &PeekableConn{
		Conn:   conn,
		reader: bufio.NewReaderSize(conn, 4096),
	}
}

// Read implements io.Reader via the buffered reader so previously peeked
// bytes are returned before new ones are pulled off the wire.
func (pc *PeekableConn) Read(b []byte) (int, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.reader.Read(b)
}

// Peek returns the next n bytes without advancing the read position.
func (pc *PeekableConn) Peek(n int) ([]byte, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.reader.Peek(n)
}

// Decoder recognises and strips a PROXY protocol header from the start of a
// connection.
type Decoder struct {
	timeout time.Duration
}

// NewDecoder returns a Decoder using DetectionTimeout.
func NewDecoder() *Decoder {
	return &Decoder{timeout: DetectionTimeout}
}

// NewDecoderWithTimeout returns a Decoder with a custom detection deadline.
func NewDecoderWithTimeout(timeout time.Duration) *Decoder {
	return &Decoder{timeout: timeout}
}

// Decode peeks the head of conn, and if it carries a v1 or v2 PROXY header,
// consumes exactly that header (and its declared payload, for v2) and returns
// the parsed Header plus a connection positioned right after it. If no PROXY
// header is present the connection is returned unconsumed and Header is nil.
func (d *Decoder) Decode(conn net.Conn) (*Header, net.Conn, error) {
	pc := NewPeekableConn(conn)

	if d.timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(d.timeout))
	}
	defer conn.SetReadDeadline(time.Time{})

	peeked, err := pc.Peek(HeaderPeekSize)
	if err != nil {
		// A short connection (fewer than HeaderPeekSize bytes available) is
		// not necessarily an error - fall through with whatever we have.
		if len(peeked) == 0 {
			if isTimeout(err) {
				return nil, pc, ErrDetectionTimeout
			}
			return nil, pc, ErrConnectionClosed
		}
	}

	switch {
	case hasV2Signature(peeked):
		hdr, err := d.decodeV2(pc)
		return hdr, pc, err
	case strings.HasPrefix(string(peeked), v1Prefix):
		hdr, err := d.decodeV1(pc)
		return hdr, pc, err
	default:
		return nil, pc, nil
	}
}

func hasV2Signature(peeked []byte) bool {
	if len(peeked) < len(v2Signature) {
		return false
	}
	for i, b := range v2Signature {
		if peeked[i] != b {
			return false
		}
	}
	return true
}

// decodeV2 parses the binary v2 header: 12-byte signature, version/command
// byte, family/protocol byte, 2-byte big-endian address-block length, then
// the address block itself. A malformed but signature-matching header is
// drained by its declared length and discarded rather than parsed further.
func (d *Decoder) decodeV2(pc *PeekableConn) (*Header, error) {
	fixed := make([]byte, 16)
	if _, err := readFull(pc, fixed); err != nil {
		return nil, err
	}

	family := fixed[13]
	addrLen := binary.BigEndian.Uint16(fixed[14:16])

	addrBlock := make([]byte, addrLen)
	if _, err := readFull(pc, addrBlock); err != nil {
		return nil, err
	}

	if fixed[12] != v2VersionCmdByte {
		return nil, ErrMalformedHeader
	}

	switch family {
	case v2FamilyTCP4:
		if len(addrBlock) < 12 {
			return nil, ErrMalformedHeader
		}
		return &Header{
			Family:  "TCP4",
			SrcAddr: net.IP(addrBlock[0:4]),
			DstAddr: net.IP(addrBlock[4:8]),
			SrcPort: int(binary.BigEndian.Uint16(addrBlock[8:10])),
			DstPort: int(binary.BigEndian.Uint16(addrBlock[10:12])),
		}, nil
	case v2FamilyTCP6:
		if len(addrBlock) < 36 {
			return nil, ErrMalformedHeader
		}
		return &Header{
			Family:  "TCP6",
			SrcAddr: net.IP(addrBlock[0:16]),
			DstAddr: net.IP(addrBlock[16:32]),
			SrcPort: int(binary.BigEndian.Uint16(addrBlock[32:34])),
			DstPort: int(binary.BigEndian.Uint16(addrBlock[34:36])),
		}, nil
	default:
		// Unrecognised family/proto: the address block has already been
		// drained by its declared length, so the stream is still aligned.
		return nil, ErrUnknownFamily
	}
}

// decodeV1 parses the ASCII line form: "PROXY TCP4|TCP6 <src> <dst> <sport>
// <dport>\r\n" or "PROXY UNKNOWN\r\n".
func (d *Decoder) decodeV1(pc *PeekableConn) (*Header, error) {
	pc.mu.Lock()
	line, err := pc.reader.ReadString('\n')
	pc.mu.Unlock()
	if err != nil {
		return nil, ErrMalformedHeader
	}

	line = strings.TrimRight(line, "\r\n")
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "PROXY" {
		return nil, ErrMalformedHeader
	}

	if fields[1] == "UNKNOWN" {
		return &Header{Family: "UNKNOWN"}, nil
	}

	if fields[1] != "TCP4" && fields[1] != "TCP6" {
		return nil, ErrMalformedHeader
	}
	if len(fields) != 6 {
		return nil, ErrMalformedHeader
	}

	srcIP := net.ParseIP(fields[2])
	dstIP := net.ParseIP(fields[3])
	if srcIP == nil || dstIP == nil {
		return nil, ErrMalformedHeader
	}

	srcPort, err := strconv.Atoi(fields[4])
	if err != nil {
		return nil, ErrMalformedHeader
	}
	dstPort, err := strconv.Atoi(fields[5])
	if err != nil {
		return nil, ErrMalformedHeader
	}

	return &Header{
		Family:  fields[1],
		SrcAddr: srcIP,
		DstAddr: dstIP,
		SrcPort: srcPort,
		DstPort: dstPort,
	}, nil
}

func readFull(pc *PeekableConn, buf []byte) (int, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	n := 0
	for n < len(buf) {
		m, err := pc.reader.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
