package asyncmysql

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/asyncmysql/asyncmysql/internal/packet"
)

// delegate receives transport events. The read-loop goroutine is the
// connection's event loop: serverFrame and the error callbacks fire
// from it, in strict wire order.
type delegate interface {
	serverFrame(payload []byte)
	transportClosed(err error)
}

// transport owns the TCP connection and the framing codec. Writes are
// serialized; reads happen only on the read loop.
type transport struct {
	conn net.Conn
	pc   *packet.Conn

	writeMu sync.Mutex
	closing atomic.Bool
	closed  sync.Once
}

func dialTransport(ctx context.Context, cfg Config) (*transport, error) {
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &transport{conn: conn, pc: packet.NewConn(conn)}, nil
}

// start launches the read loop delivering frames to del.
func (t *transport) start(del delegate) {
	go t.readLoop(del)
}

func (t *transport) readLoop(del delegate) {
	for {
		payload, err := t.pc.ReadFrame()
		if err != nil {
			if t.closing.Load() {
				del.transportClosed(nil)
			} else {
				del.transportClosed(err)
			}
			return
		}
		del.serverFrame(payload)
	}
}

// write frames and sends a payload. Safe for concurrent use.
func (t *transport) write(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.pc.WriteFrame(payload)
}

// resetSequence marks a command boundary.
func (t *transport) resetSequence() {
	t.pc.ResetSequence()
}

// remoteAddr reports the peer address for diagnostics.
func (t *transport) remoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// close tears down the socket. The first call marks the teardown as
// intentional so the read loop reports a clean close.
func (t *transport) close() error {
	t.closing.Store(true)
	var err error
	t.closed.Do(func() {
		err = t.conn.Close()
	})
	return err
}
