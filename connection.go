// Package asyncmysql is an asynchronous client driver for servers
// speaking the MySQL wire protocol. A Connection owns one TCP session
// and drives the handshake, authentication, text and prepared-statement
// query lifecycles with at-most-one-in-flight-query semantics.
package asyncmysql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/asyncmysql/asyncmysql/internal/auth"
	"github.com/asyncmysql/asyncmysql/internal/packet"
)

type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateAwaitingHandshake
	stateAwaitingHandshakeResult
	stateReady
	stateQuerying
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateAwaitingHandshake:
		return "awaiting-handshake"
	case stateAwaitingHandshakeResult:
		return "awaiting-handshake-result"
	case stateReady:
		return "ready"
	case stateQuerying:
		return "querying"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Prepared-statement sub-phases within the querying state.
const (
	prepAwaitOK = iota
	prepParams
	prepColumns
	prepExecuting
)

type prepareState struct {
	args       []any
	stmtID     uint32
	phase      int
	paramCount int
	colCount   int
}

var connCounter atomic.Uint64

// Connection is a single client connection. Server-driven transitions
// run on the transport's read-loop goroutine; the public API may be
// called from any goroutine, and every state change is serialized by
// the connection mutex. The pending-query slot is the only state
// shared with callers waiting on query futures.
type Connection struct {
	cfg       Config
	charsetID uint8
	count     uint64
	id        string
	runID     string

	mu        sync.Mutex
	st        state
	transport *transport
	version   ServerVersion
	lastErr   error
	acc       *accumulator
	prep      *prepareState
	timer     *time.Timer

	pending  atomic.Pointer[Pending]
	timedOut atomic.Bool

	connectOnce      sync.Once
	connectDone      chan struct{}
	connectCompleted bool
	connectErr       error

	closeOnce  sync.Once
	closed     chan struct{}
	closedDone bool
	closeErr   error
}

// NewConnection creates a disconnected Connection. The configured
// charset must resolve to a server charset id.
func NewConnection(cfg Config) (*Connection, error) {
	cfg = cfg.withDefaults()
	charsetID, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	count := connCounter.Add(1)
	return &Connection{
		cfg:         cfg,
		charsetID:   charsetID,
		count:       count,
		id:          fmt.Sprintf("mysql-connection-%d", count),
		runID:       uuid.NewString(),
		connectDone: make(chan struct{}),
		closed:      make(chan struct{}),
	}, nil
}

// Connect dials the server and performs the handshake. The outcome is
// single-shot: concurrent and repeated calls observe the same result.
// The context bounds this caller's wait, not the connection lifetime.
func (c *Connection) Connect(ctx context.Context) error {
	c.connectOnce.Do(func() {
		c.mu.Lock()
		if c.st != stateDisconnected {
			c.mu.Unlock()
			return
		}
		c.st = stateConnecting
		c.mu.Unlock()
		go c.dial(ctx)
	})
	select {
	case <-c.connectDone:
		return c.connectErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) dial(ctx context.Context) {
	t, err := dialTransport(ctx, c.cfg)
	if err != nil {
		c.mu.Lock()
		c.becomeClosedLocked(&TransportError{Cause: err})
		c.mu.Unlock()
		return
	}
	c.mu.Lock()
	if c.st != stateConnecting {
		c.mu.Unlock()
		t.close()
		return
	}
	c.transport = t
	c.st = stateAwaitingHandshake
	c.mu.Unlock()
	slog.Debug("transport connected", "conn", c.id, "addr", t.remoteAddr())
	t.start(c)
}

// SendQuery issues sql as a text-protocol query. It fails synchronously
// when the connection is not ready or a query is already in flight; any
// later failure is delivered through the returned Pending.
func (c *Connection) SendQuery(sql string) (*Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.installPendingLocked()
	if err != nil {
		return nil, err
	}
	c.transport.resetSequence()
	if c.writeLocked(packet.EncodeComQuery(sql)) {
		c.armTimeoutLocked(p)
	}
	return p, nil
}

// SendPreparedStatement prepares sql, binds values and executes it over
// the binary protocol. The number of ? placeholders must match
// len(values); the count is a literal byte match that does not parse
// string literals or comments.
func (c *Connection) SendPreparedStatement(sql string, values []any) (*Pending, error) {
	expected := strings.Count(sql, "?")
	if expected != len(values) {
		return nil, &InsufficientParametersError{Expected: expected, Actual: len(values)}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.installPendingLocked()
	if err != nil {
		return nil, err
	}
	c.prep = &prepareState{args: values}
	c.transport.resetSequence()
	if c.writeLocked(packet.EncodeComStmtPrepare(sql)) {
		c.armTimeoutLocked(p)
	}
	return p, nil
}

// Query sends sql and waits for the result.
func (c *Connection) Query(ctx context.Context, sql string) (*QueryResult, error) {
	p, err := c.SendQuery(sql)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Execute sends a prepared statement and waits for the result.
func (c *Connection) Execute(ctx context.Context, sql string, args ...any) (*QueryResult, error) {
	p, err := c.SendPreparedStatement(sql, args)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Ping round-trips a COM_PING. It shares the pending-query slot, so it
// fails like a query when one is already in flight.
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.Lock()
	p, err := c.installPendingLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.transport.resetSequence()
	if c.writeLocked(packet.EncodeComPing()) {
		c.armTimeoutLocked(p)
	}
	c.mu.Unlock()
	_, err = p.Wait(ctx)
	return err
}

// Close sends COM_QUIT when connected, tears down the transport and
// fails any in-flight query. It always resolves: the returned error is
// the underlying failure, if any, and repeated calls observe the same
// outcome.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.st == stateClosed {
			return
		}
		var cause error
		if c.transport != nil && c.st != stateConnecting {
			c.transport.resetSequence()
			if err := c.transport.write(packet.EncodeComQuit()); err != nil {
				cause = &TransportError{Cause: err}
			}
		}
		c.becomeClosedLocked(cause)
	})
	<-c.closed
	return c.closeErr
}

// Disconnect is an alias of Close.
func (c *Connection) Disconnect() error {
	return c.Close()
}

// Closed is closed once the connection reaches its terminal state.
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

// IsConnected reports whether the handshake has completed and the
// connection has not been closed.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st == stateReady || c.st == stateQuerying
}

// IsQuerying reports whether a query is in flight.
func (c *Connection) IsQuerying() bool {
	return c.pending.Load() != nil
}

// IsTimeout reports whether a query deadline has fired since the last
// query was issued.
func (c *Connection) IsTimeout() bool {
	return c.timedOut.Load()
}

// Version returns the negotiated server version.
func (c *Connection) Version() ServerVersion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// LastError returns the most recent fatal error, if any.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Count returns this connection's instance counter.
func (c *Connection) Count() uint64 {
	return c.count
}

// ID returns the stable identifier used in diagnostics and errors.
func (c *Connection) ID() string {
	return c.id
}

// installPendingLocked claims the pending-query slot. A failed claim is
// a caller error, never a retry condition.
func (c *Connection) installPendingLocked() (*Pending, error) {
	switch c.st {
	case stateReady:
	case stateQuerying:
		return nil, &StillRunningQueryError{ConnectionID: c.id}
	default:
		return nil, &NotConnectedError{ConnectionID: c.id}
	}
	p := newPending()
	if !c.pending.CompareAndSwap(nil, p) {
		return nil, &StillRunningQueryError{ConnectionID: c.id, RaceLost: true}
	}
	c.st = stateQuerying
	c.timedOut.Store(false)
	return p, nil
}

func (c *Connection) armTimeoutLocked(p *Pending) {
	if c.cfg.QueryTimeout <= 0 {
		return
	}
	c.timer = time.AfterFunc(c.cfg.QueryTimeout, func() { c.onQueryTimeout(p) })
}

func (c *Connection) onQueryTimeout(p *Pending) {
	c.mu.Lock()
	if c.pending.Load() != p {
		c.mu.Unlock()
		return
	}
	c.timedOut.Store(true)
	slog.Warn("query timed out, disconnecting", "conn", c.id, "timeout", c.cfg.QueryTimeout)
	c.finishQueryLocked(nil, &TimedOutError{ConnectionID: c.id, Timeout: c.cfg.QueryTimeout})
	c.mu.Unlock()
	c.Close()
}

// writeLocked sends a payload, closing the connection on failure. The
// caller treats a false return as already handled.
func (c *Connection) writeLocked(payload []byte) bool {
	if err := c.transport.write(payload); err != nil {
		slog.Warn("write failed", "conn", c.id, "err", err)
		c.becomeClosedLocked(&TransportError{Cause: err})
		return false
	}
	return true
}

// serverFrame dispatches one decoded wire frame. It runs on the read
// loop, so frames are handled in wire order.
func (c *Connection) serverFrame(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(payload) == 0 {
		return
	}
	switch c.st {
	case stateAwaitingHandshake:
		c.onHandshakeLocked(payload)
	case stateAwaitingHandshakeResult:
		c.onHandshakeResultLocked(payload)
	case stateQuerying:
		c.onQueryFrameLocked(payload)
	default:
		slog.Warn("dropping unexpected server packet",
			"conn", c.id, "state", c.st.String(), "header", fmt.Sprintf("0x%02x", payload[0]))
	}
}

func (c *Connection) transportClosed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		c.becomeClosedLocked(nil)
		return
	}
	slog.Warn("transport failure", "conn", c.id, "err", err)
	c.becomeClosedLocked(&TransportError{Cause: err})
}

func (c *Connection) onHandshakeLocked(payload []byte) {
	h, err := packet.ParseHandshake(payload)
	if err != nil {
		c.becomeClosedLocked(err)
		return
	}
	if v, err := ParseServerVersion(h.ServerVersion); err == nil {
		c.version = v
	} else {
		slog.Warn("unparseable server version", "conn", c.id, "version", h.ServerVersion)
	}

	plugin := h.AuthPlugin
	if plugin == "" {
		plugin = auth.NativePassword
	}
	scramble, err := auth.Scramble(plugin, h.AuthSeed, c.cfg.Password)
	if err != nil {
		c.becomeClosedLocked(err)
		return
	}
	resp := &packet.HandshakeResponse{
		User:         c.cfg.User,
		Database:     c.cfg.Database,
		CharsetID:    c.charsetID,
		AuthResponse: scramble,
		AuthPlugin:   plugin,
		Attrs:        c.connectAttrs(),
	}
	c.st = stateAwaitingHandshakeResult
	c.writeLocked(resp.Encode())
}

func (c *Connection) onHandshakeResultLocked(payload []byte) {
	switch payload[0] {
	case packet.OKHeader:
		if _, err := packet.ParseOK(payload); err != nil {
			c.becomeClosedLocked(err)
			return
		}
		c.st = stateReady
		slog.Info("connection ready", "conn", c.id, "server", c.version.String())
		c.completeConnectLocked(nil)
	case packet.ErrHeader:
		e, err := packet.ParseErr(payload)
		if err != nil {
			c.becomeClosedLocked(err)
			return
		}
		c.becomeClosedLocked(&ProtocolError{Code: e.Code, SQLState: e.SQLState, Message: e.Message})
	case packet.EOFHeader:
		req, err := packet.ParseAuthSwitchRequest(payload)
		if err != nil {
			c.becomeClosedLocked(err)
			return
		}
		scramble, err := auth.Scramble(req.Plugin, req.Seed, c.cfg.Password)
		if err != nil {
			c.becomeClosedLocked(err)
			return
		}
		c.writeLocked(packet.EncodeAuthSwitchResponse(scramble))
	default:
		slog.Warn("dropping unexpected packet during auth",
			"conn", c.id, "header", fmt.Sprintf("0x%02x", payload[0]))
	}
}

func (c *Connection) onQueryFrameLocked(payload []byte) {
	if c.prep != nil && c.prep.phase != prepExecuting {
		c.onPrepareFrameLocked(payload)
		return
	}

	if c.acc == nil {
		// Awaiting the response header.
		switch {
		case payload[0] == packet.OKHeader:
			ok, err := packet.ParseOK(payload)
			if err != nil {
				c.becomeClosedLocked(err)
				return
			}
			c.finishQueryLocked(resultFromOK(ok), nil)
		case payload[0] == packet.ErrHeader:
			c.failQueryFromErrLocked(payload)
		default:
			n, err := packet.ParseResultSetHeader(payload)
			if err != nil {
				c.becomeClosedLocked(err)
				return
			}
			c.acc = newAccumulator(n, c.prep != nil)
		}
		return
	}

	if !c.acc.colsDone {
		if packet.IsEOF(payload) {
			c.acc.colsDone = true
			return
		}
		if err := c.acc.column(payload); err != nil {
			c.becomeClosedLocked(err)
		}
		return
	}

	switch {
	case packet.IsEOF(payload):
		eof, err := packet.ParseEOF(payload)
		if err != nil {
			c.becomeClosedLocked(err)
			return
		}
		c.finishQueryLocked(c.acc.result(eof), nil)
	case payload[0] == packet.ErrHeader:
		c.failQueryFromErrLocked(payload)
	default:
		if err := c.acc.row(payload); err != nil {
			c.becomeClosedLocked(err)
		}
	}
}

func (c *Connection) onPrepareFrameLocked(payload []byte) {
	switch c.prep.phase {
	case prepAwaitOK:
		if payload[0] == packet.ErrHeader {
			c.failQueryFromErrLocked(payload)
			return
		}
		ok, err := packet.ParsePrepareOK(payload)
		if err != nil {
			c.becomeClosedLocked(err)
			return
		}
		c.prep.stmtID = ok.StatementID
		c.prep.paramCount = int(ok.ParamCount)
		c.prep.colCount = int(ok.ColumnCount)
		if got := len(c.prep.args); got != c.prep.paramCount {
			c.finishQueryLocked(nil, &InsufficientParametersError{Expected: c.prep.paramCount, Actual: got})
			return
		}
		switch {
		case c.prep.paramCount > 0:
			c.prep.phase = prepParams
		case c.prep.colCount > 0:
			c.prep.phase = prepColumns
		default:
			c.sendExecuteLocked()
		}
	case prepParams:
		if packet.IsEOF(payload) {
			if c.prep.colCount > 0 {
				c.prep.phase = prepColumns
			} else {
				c.sendExecuteLocked()
			}
		}
		// Parameter definitions carry no information we bind against;
		// the EOF is the phase boundary.
	case prepColumns:
		if packet.IsEOF(payload) {
			c.sendExecuteLocked()
		}
	}
}

func (c *Connection) sendExecuteLocked() {
	payload, err := packet.EncodeComStmtExecute(c.prep.stmtID, c.prep.args, c.version.SupportsMicroseconds())
	if err != nil {
		c.finishQueryLocked(nil, err)
		return
	}
	c.prep.phase = prepExecuting
	c.transport.resetSequence()
	c.writeLocked(payload)
}

func (c *Connection) failQueryFromErrLocked(payload []byte) {
	e, err := packet.ParseErr(payload)
	if err != nil {
		c.becomeClosedLocked(err)
		return
	}
	c.finishQueryLocked(nil, &ProtocolError{Code: e.Code, SQLState: e.SQLState, Message: e.Message})
}

// finishQueryLocked delivers the terminal event for the in-flight
// command and returns the connection to ready. A prepared statement is
// deallocated on the way out.
func (c *Connection) finishQueryLocked(res *QueryResult, err error) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	prep := c.prep
	c.acc, c.prep = nil, nil
	if c.st == stateQuerying {
		c.st = stateReady
	}
	if prep != nil && prep.stmtID != 0 && c.st == stateReady {
		// COM_STMT_CLOSE has no server response.
		c.transport.resetSequence()
		if werr := c.transport.write(packet.EncodeComStmtClose(prep.stmtID)); werr != nil {
			slog.Warn("statement close failed", "conn", c.id, "err", werr)
		}
	}
	if p := c.pending.Swap(nil); p != nil {
		p.complete(res, err)
	}
}

func (c *Connection) completeConnectLocked(err error) {
	if c.connectCompleted {
		return
	}
	c.connectCompleted = true
	c.connectErr = err
	close(c.connectDone)
}

// becomeClosedLocked is the single path to the terminal state. It fails
// the connect and pending futures if still open, tears down the
// transport and completes the disconnect future exactly once.
func (c *Connection) becomeClosedLocked(cause error) {
	if c.st == stateClosed {
		return
	}
	c.st = stateClosed
	if cause != nil {
		c.lastErr = cause
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.acc, c.prep = nil, nil

	failure := cause
	if failure == nil {
		failure = ErrConnectionClosed
	}
	c.completeConnectLocked(failure)
	if p := c.pending.Swap(nil); p != nil {
		p.complete(nil, failure)
	}
	if c.transport != nil {
		c.transport.close()
	}
	if !c.closedDone {
		c.closedDone = true
		c.closeErr = cause
		close(c.closed)
	}
}

func (c *Connection) connectAttrs() map[string]string {
	attrs := map[string]string{
		"_client_name": "asyncmysql",
		"_client_run":  c.runID,
	}
	if c.cfg.ApplicationName != "" {
		attrs["program_name"] = c.cfg.ApplicationName
	}
	return attrs
}

func resultFromOK(ok *packet.OK) *QueryResult {
	return &QueryResult{
		AffectedRows: int64(ok.AffectedRows),
		Message:      ok.Message,
		LastInsertID: int64(ok.LastInsertID),
		StatusFlags:  ok.StatusFlags,
		Warnings:     ok.Warnings,
	}
}
