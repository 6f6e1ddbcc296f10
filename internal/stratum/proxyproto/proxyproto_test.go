package proxyproto

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_V1_TCP4(t *testing.T) {
	line := "PROXY TCP4 192.168.1.1 192.168.1.2 56324 443\r\n"
	payload := "rest-of-stream"
	conn := newMockConn([]byte(line + payload))

	hdr, wrapped, err := NewDecoder().Decode(conn)
	require.NoError(t, err)
	require.NotNil(t, hdr)

	assert.Equal(t, "TCP4", hdr.Family)
	assert.Equal(t, "192.168.1.1", hdr.SrcAddr.String())
	assert.Equal(t, "192.168.1.2", hdr.DstAddr.String())
	assert.Equal(t, 56324, hdr.SrcPort)
	assert.Equal(t, 443, hdr.DstPort)

	rest := make([]byte, len(payload))
	n, err := io.ReadFull(wrapped, rest)
	require.NoError(t, err)
	assert.Equal(t, payload, string(rest[:n]))
}

func TestDecode_V1_TCP6(t *testing.T) {
	line := "PROXY TCP6 ::1 ::2 1 2\r\n"
	conn := newMockConn([]byte(line))

	hdr, _, err := NewDecoder().Decode(conn)
	require.NoError(t, err)
	require.NotNil(t, hdr)
	assert.Equal(t, "TCP6", hdr.Family)
	assert.Equal(t, "::1", hdr.SrcAddr.String())
}

func TestDecode_V1_Unknown(t *testing.T) {
	conn := newMockConn([]byte("PROXY UNKNOWN\r\nleftover"))

	hdr, wrapped, err := NewDecoder().Decode(conn)
	require.NoError(t, err)
	require.NotNil(t, hdr)
	assert.Equal(t, "UNKNOWN", hdr.Family)
	assert.Nil(t, hdr.SrcAddr)

	rest := make([]byte, len("leftover"))
	io.ReadFull(wrapped, rest)
	assert.Equal(t, "leftover", string(rest))
}

func TestDecode_V1_Malformed(t *testing.T) {
	conn := newMockConn([]byte("PROXY TCP4 not-an-ip\r\n"))

	_, _, err := NewDecoder().Decode(conn)
	assert.Equal(t, ErrMalformedHeader, err)
}

func TestDecode_V2_TCP4(t *testing.T) {
	addr := make([]byte, 12)
	copy(addr[0:4], net.ParseIP("10.0.0.1").To4())
	copy(addr[4:8], net.ParseIP("10.0.0.2").To4())
	binary.BigEndian.PutUint16(addr[8:10], 5000)
	binary.BigEndian.PutUint16(addr[10:12], 3333)

	header := buildV2Header(v2FamilyTCP4, addr)
	payload := "stratum-payload"
	conn := newMockConn(append(header, []byte(payload)...))

	hdr, wrapped, err := NewDecoder().Decode(conn)
	require.NoError(t, err)
	require.NotNil(t, hdr)

	assert.Equal(t, "TCP4", hdr.Family)
	assert.Equal(t, "10.0.0.1", hdr.SrcAddr.String())
	assert.Equal(t, "10.0.0.2", hdr.DstAddr.String())
	assert.Equal(t, 5000, hdr.SrcPort)
	assert.Equal(t, 3333, hdr.DstPort)

	rest := make([]byte, len(payload))
	io.ReadFull(wrapped, rest)
	assert.Equal(t, payload, string(rest))
}

func TestDecode_V2_TCP6(t *testing.T) {
	addr := make([]byte, 36)
	copy(addr[0:16], net.ParseIP("::1").To16())
	copy(addr[16:32], net.ParseIP("::2").To16())
	binary.BigEndian.PutUint16(addr[32:34], 1234)
	binary.BigEndian.PutUint16(addr[34:36], 4321)

	header := buildV2Header(v2FamilyTCP6, addr)
	conn := newMockConn(header)

	hdr, _, err := NewDecoder().Decode(conn)
	require.NoError(t, err)
	require.NotNil(t, hdr)
	assert.Equal(t, "TCP6", hdr.Family)
	assert.Equal(t, 1234, hdr.SrcPort)
}

func TestDecode_V2_UnknownFamilyDrainsPayload(t *testing.T) {
	addr := []byte{0xde, 0xad, 0xbe, 0xef}
	header := buildV2Header(0x00, addr) // family/proto 0x00 = UNSPEC
	payload := "after"
	conn := newMockConn(append(header, []byte(payload)...))

	hdr, wrapped, err := NewDecoder().Decode(conn)
	assert.Equal(t, ErrUnknownFamily, err)
	assert.Nil(t, hdr)

	rest := make([]byte, len(payload))
	io.ReadFull(wrapped, rest)
	assert.Equal(t, payload, string(rest))
}

func TestDecode_NoHeaderPassesThrough(t *testing.T) {
	data := []byte(`{"id":1,"method":"mining.subscribe"}`)
	conn := newMockConn(data)

	hdr, wrapped, err := NewDecoder().Decode(conn)
	require.NoError(t, err)
	assert.Nil(t, hdr)

	rest := make([]byte, len(data))
	io.ReadFull(wrapped, rest)
	assert.Equal(t, data, rest)
}

func TestPeekableConn_PeekThenRead(t *testing.T) {
	data := []byte(`{"id":1,"method":"mining.subscribe"}`)
	conn := newMockConn(data)
	pc := NewPeekableConn(conn)

	peeked, err := pc.Peek(6)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"id":`), peeked)

	buf := make([]byte, 6)
	n, err := pc.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte(`{"id":`), buf)
}

func buildV2Header(family byte, addr []byte) []byte {
	buf := make([]byte, 0, 16+len(addr))
	buf = append(buf, v2Signature...)
	buf = append(buf, v2VersionCmdByte, family)
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(addr)))
	buf = append(buf, lenBuf...)
	buf = append(buf, addr...)
	return buf
}

// mockConn is a net.Conn backed by an in-memory byte slice.
type mockConn struct {
	reader     *bytes.Reader
	remoteAddr net.Addr
	closed     bool
	mu         sync.Mutex
}

func newMockConn(data []byte) *mockConn {
	return &mockConn{
		reader:     bytes.NewReader(data),
		remoteAddr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345},
	}
}

func (m *mockConn) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.EOF
	}
	return m.reader.Read(b)
}

func (m *mockConn) Write(b []byte) (int, error) { return len(b), nil }

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) LocalAddr() net.Addr  { return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 3333} }
func (m *mockConn) RemoteAddr() net.Addr { return m.remoteAddr }

func (m *mockConn) SetDeadline(t time.Time) error      { return nil }
func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }
