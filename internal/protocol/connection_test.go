package protocol

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func pipeConnection(timeout time.Duration) *Connection {
	c := NewConnection("127.0.0.1", DefaultPort)
	c.Timeout = timeout
	return c
}

func TestReceive_FramedRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go func() {
		server.Write([]byte("A#B#C#"))
		server.Close()
	}()

	ok, chunks := pipeConnection(time.Second).Receive(client, 3, 0)
	if !ok {
		t.Fatalf("Receive failed, chunks=%q", chunks)
	}
	want := []string{"A", "B", "C"}
	if len(chunks) != len(want) {
		t.Fatalf("chunks = %q, want %q", chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunks = %q, want %q", chunks, want)
		}
	}
}

func TestReceive_SplitAcrossWrites(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go func() {
		server.Write([]byte("12:0"))
		server.Write([]byte("0:00#+45"))
		server.Write([]byte("*00#"))
	}()

	ok, chunks := pipeConnection(time.Second).Receive(client, 2, 0)
	if !ok || len(chunks) != 2 || chunks[0] != "12:00:00" || chunks[1] != "+45*00" {
		t.Fatalf("Receive = %v %q", ok, chunks)
	}
	server.Close()
}

func TestReceive_Unframed(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go server.Write([]byte("1"))

	ok, chunks := pipeConnection(time.Second).Receive(client, 0, 1)
	if !ok || len(chunks) != 1 || chunks[0] != "1" {
		t.Fatalf("Receive = %v %q", ok, chunks)
	}
}

func TestReceive_TimeoutKeepsPartialData(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go server.Write([]byte("A#B#"))

	c := pipeConnection(50 * time.Millisecond)
	chunks, err := c.receive(client, 3, 0)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if len(chunks) != 2 || chunks[0] != "A" || chunks[1] != "B" {
		t.Fatalf("partial chunks = %q", chunks)
	}
}

func TestReceive_ClosedEarly(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go func() {
		server.Write([]byte("A#"))
		server.Close()
	}()

	ok, chunks := pipeConnection(time.Second).Receive(client, 2, 0)
	if ok {
		t.Fatal("expected failure when the device closes early")
	}
	if len(chunks) != 1 || chunks[0] != "A" {
		t.Fatalf("partial chunks = %q", chunks)
	}
}

func TestReceive_DecodeFailure(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go server.Write([]byte{'A', 0xC3, '#'})

	_, err := pipeConnection(time.Second).receive(client, 1, 0)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

// scriptedDevice accepts connections and answers each received batch with
// reply(batch). It records every batch it saw.
type scriptedDevice struct {
	ln      net.Listener
	reply   func(batch string) string
	batches chan string
	accepts atomic.Int32
}

func newScriptedDevice(t *testing.T, reply func(string) string) *scriptedDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d := &scriptedDevice{ln: ln, reply: reply, batches: make(chan string, 16)}
	go d.serve()
	t.Cleanup(func() { ln.Close() })
	return d
}

func (d *scriptedDevice) serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.accepts.Add(1)
		go func(conn net.Conn) {
			defer conn.Close()
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			var buf bytes.Buffer
			io.Copy(&buf, conn) // ends on deadline; batches are tiny
			batch := buf.String()
			d.batches <- batch
			if d.reply != nil {
				conn.SetWriteDeadline(time.Now().Add(time.Second))
				conn.Write([]byte(d.reply(batch)))
			}
		}(conn)
	}
}

func (d *scriptedDevice) connection() *Connection {
	host, port, _ := net.SplitHostPort(d.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	c := NewConnection(host, p)
	c.Timeout = time.Second
	return c
}

func TestCommunicate_Framed(t *testing.T) {
	dev := newScriptedDevice(t, func(string) string { return "10:00:00.00#12.0,+45.0,W,180.0,+45.0,2460000.5,0,0#" })
	ok, chunks, expected := dev.connection().Communicate(":U2#:GS#:Ginfo#", "")
	if !ok || expected != 2 || len(chunks) != 2 {
		t.Fatalf("Communicate = %v %q %d", ok, chunks, expected)
	}
	if got := <-dev.batches; got != ":U2#:GS#:Ginfo#" {
		t.Fatalf("device saw %q", got)
	}
}

func TestCommunicate_AckMismatch(t *testing.T) {
	dev := newScriptedDevice(t, func(string) string { return "0" })
	res := dev.connection().Exchange(":Sw10#", "1")
	if res.OK || !errors.Is(res.Err, ErrAckMismatch) {
		t.Fatalf("Exchange = %+v, want ack mismatch", res)
	}
	if len(res.Chunks) != 1 || res.Chunks[0] != "0" {
		t.Fatalf("chunks = %q", res.Chunks)
	}
}

func TestCommunicate_AckMatch(t *testing.T) {
	dev := newScriptedDevice(t, func(string) string { return "1" })
	ok, chunks, _ := dev.connection().Communicate(":Sw10#", "1")
	if !ok || chunks[0] != "1" {
		t.Fatalf("Communicate = %v %q", ok, chunks)
	}
}

func TestCommunicate_FireAndForget(t *testing.T) {
	dev := newScriptedDevice(t, nil)
	start := time.Now()
	ok, chunks, expected := dev.connection().Communicate(":U2#:AP#", "")
	if !ok || len(chunks) != 0 || expected != 0 {
		t.Fatalf("Communicate = %v %q %d", ok, chunks, expected)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("fire-and-forget send waited for a reply")
	}
	if got := <-dev.batches; got != ":U2#:AP#" {
		t.Fatalf("device saw %q", got)
	}
}

func TestCommunicate_InvalidBatchNeverConnects(t *testing.T) {
	dev := newScriptedDevice(t, nil)
	res := dev.connection().Exchange(":U2#:NOPE#", "")
	if res.OK || !errors.Is(res.Err, ErrUnknownCommand) {
		t.Fatalf("Exchange = %+v", res)
	}
	time.Sleep(20 * time.Millisecond)
	if n := dev.accepts.Load(); n != 0 {
		t.Fatalf("device accepted %d connections for an invalid batch", n)
	}
}

func TestCommunicate_ConnectFailure(t *testing.T) {
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	c := NewConnection("127.0.0.1", addr.Port)
	c.ConnectTimeout = 200 * time.Millisecond
	res := c.Exchange(":GS#", "")
	if res.OK || !errors.Is(res.Err, ErrConnect) {
		t.Fatalf("Exchange = %+v, want connect failure", res)
	}
	if c.Reachable() {
		t.Fatal("Reachable() = true on a closed port")
	}
}

func TestSendThenReceive(t *testing.T) {
	dev := newScriptedDevice(t, func(string) string { return "V1#2.15.14#" })
	c := dev.connection()

	conn, ok := c.Send(":GVP#:GVN#")
	if !ok || conn == nil {
		t.Fatalf("Send = %v %v", conn, ok)
	}
	defer conn.Close()

	ok, chunks := c.Receive(conn, 2, 0)
	if !ok || len(chunks) != 2 || chunks[0] != "V1" || chunks[1] != "2.15.14" {
		t.Fatalf("Receive = %v %q", ok, chunks)
	}
	if got := <-dev.batches; got != ":GVP#:GVN#" {
		t.Fatalf("device saw %q", got)
	}
}

func TestSend_ConnectFailure(t *testing.T) {
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	c := NewConnection("127.0.0.1", addr.Port)
	c.ConnectTimeout = 200 * time.Millisecond
	conn, ok := c.Send(":GS#")
	if ok || conn != nil {
		t.Fatalf("Send = %v %v, want nil false", conn, ok)
	}
}

func TestReachable(t *testing.T) {
	dev := newScriptedDevice(t, nil)
	if !dev.connection().Reachable() {
		t.Fatal("Reachable() = false on a listening port")
	}
}

func TestMagicPacket(t *testing.T) {
	p, err := MagicPacket("00:c0:08:87:35:db")
	if err != nil {
		t.Fatalf("MagicPacket err=%v", err)
	}
	if len(p) != 102 {
		t.Fatalf("len = %d, want 102", len(p))
	}
	if !bytes.Equal(p[:6], []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Fatalf("header = % x", p[:6])
	}
	if !bytes.Equal(p[96:], []byte{0x00, 0xc0, 0x08, 0x87, 0x35, 0xdb}) {
		t.Fatalf("tail = % x", p[96:])
	}
	if _, err := MagicPacket("not-a-mac"); err == nil {
		t.Fatal("expected error for malformed address")
	}
}
