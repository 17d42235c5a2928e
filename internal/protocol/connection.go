package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fisaks/mountlink/internal/logging"
)

const (
	DefaultPort           = 3490
	DefaultTimeout        = 2 * time.Second
	DefaultConnectTimeout = 2 * time.Second

	readIncrement = 2048
)

// Result is the outcome of one Exchange. Chunks holds whatever was received,
// also on failure, so it can be logged.
type Result struct {
	OK       bool
	Chunks   []string
	Expected int
	Err      error
}

// Connection describes how to reach the mount. It holds no socket: every
// call opens its own and closes it before returning, so a failed call never
// taints the next one. Safe for concurrent use.
type Connection struct {
	Host           string
	Port           int
	Timeout        time.Duration // read and write
	ConnectTimeout time.Duration
	Table          *Table
}

func NewConnection(host string, port int) *Connection {
	if port == 0 {
		port = DefaultPort
	}
	return &Connection{
		Host:           host,
		Port:           port,
		Timeout:        DefaultTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		Table:          DefaultTable,
	}
}

func (c *Connection) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Connection) table() *Table {
	if c.Table == nil {
		return DefaultTable
	}
	return c.Table
}

func (c *Connection) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c *Connection) connectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return c.ConnectTimeout
}

// session is the per-call context: a correlation id for the logs.
type session struct {
	id  string
	log *slog.Logger
}

func (c *Connection) newSession() *session {
	var b [3]byte
	id := "000000"
	if _, err := rand.Read(b[:]); err == nil {
		id = hex.EncodeToString(b[:])
	}
	return &session{id: id, log: logging.With("conn", id, "addr", c.Addr())}
}

// Communicate validates, classifies, sends and, if a reply is expected,
// receives. When expectedAck is set the first chunk must equal it.
func (c *Connection) Communicate(batch, expectedAck string) (bool, []string, int) {
	res := c.Exchange(batch, expectedAck)
	return res.OK, res.Chunks, res.Expected
}

// Exchange is Communicate returning the failure cause as well.
func (c *Connection) Exchange(batch, expectedAck string) Result {
	s := c.newSession()
	if err := c.table().check(batch); err != nil {
		return Result{Err: err}
	}
	expectedChunks, expectsReply, expectedBytes := c.table().Classify(batch)
	res := Result{Expected: expectedChunks}

	conn, err := c.send(s, batch)
	if err != nil {
		res.Err = err
		return res
	}
	defer conn.Close()

	if !expectsReply {
		s.log.Debug("sent without reply", "batch", batch)
		res.OK = true
		return res
	}

	chunks, err := c.receive(conn, expectedChunks, expectedBytes)
	res.Chunks = chunks
	if err != nil {
		s.log.Warn("receive failed", "batch", batch, "chunks", chunks,
			"expectedChunks", expectedChunks, "expectedBytes", expectedBytes, "error", err)
		res.Err = err
		return res
	}
	if expectedAck != "" && (len(chunks) == 0 || chunks[0] != expectedAck) {
		s.log.Warn("unexpected acknowledgement", "batch", batch, "chunks", chunks, "want", expectedAck)
		res.Err = ErrAckMismatch
		return res
	}
	s.log.Debug("exchange done", "batch", batch, "chunks", chunks)
	res.OK = true
	return res
}

// Send opens a new socket and writes the batch and reports whether it went
// out. The connection is returned for Receive and the caller must close it.
// On failure it is nil and the socket is already closed.
func (c *Connection) Send(batch string) (net.Conn, bool) {
	conn, err := c.send(c.newSession(), batch)
	return conn, err == nil
}

func (c *Connection) send(s *session, batch string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", c.Addr(), c.connectTimeout())
	if err != nil {
		s.log.Warn("connect failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.timeout()))
	if _, err := conn.Write([]byte(batch)); err != nil {
		s.log.Warn("write failed", "batch", batch, "error", err)
		abort(conn)
		return nil, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return conn, nil
}

// abort drops the connection with a reset instead of a graceful close.
func abort(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0)
	}
	_ = conn.Close()
}

// Receive reads from conn until expectedChunks delimiters or expectedBytes
// unframed bytes have arrived, or the timeout expires.
func (c *Connection) Receive(conn net.Conn, expectedChunks, expectedBytes int) (bool, []string) {
	chunks, err := c.receive(conn, expectedChunks, expectedBytes)
	return err == nil, chunks
}

func (c *Connection) receive(conn net.Conn, expectedChunks, expectedBytes int) ([]string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(c.timeout())); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortReply, err)
	}
	var response []byte
	buf := make([]byte, readIncrement)
	for !complete(response, expectedChunks, expectedBytes) {
		n, err := conn.Read(buf)
		response = append(response, buf[:n]...)
		if err == nil || complete(response, expectedChunks, expectedBytes) {
			continue
		}
		chunks := splitReply(response)
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			return chunks, ErrTimeout
		case errors.Is(err, io.EOF):
			return chunks, ErrShortReply
		default:
			return chunks, fmt.Errorf("%w: %v", ErrShortReply, err)
		}
	}
	chunks := splitReply(response)
	for _, chunk := range chunks {
		if !isASCII(chunk) {
			return chunks, ErrDecode
		}
	}
	return chunks, nil
}

// complete: a framed batch needs all its delimiters; a purely unframed batch
// needs its byte count.
func complete(response []byte, expectedChunks, expectedBytes int) bool {
	if expectedChunks > 0 {
		return strings.Count(string(response), Delimiter) >= expectedChunks
	}
	return len(response) >= expectedBytes
}

func splitReply(response []byte) []string {
	return SplitBatch(string(response))
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return false
		}
	}
	return true
}

// Reachable opens and closes a bare TCP connection to the mount.
func (c *Connection) Reachable() bool {
	conn, err := net.DialTimeout("tcp", c.Addr(), c.connectTimeout())
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
