package asyncmysql

import (
	"errors"
	"fmt"
	"time"

	"github.com/asyncmysql/asyncmysql/internal/packet"
)

// ErrConnectionClosed fails the pending query when Close interrupts it.
var ErrConnectionClosed = errors.New("connection is being closed")

// ProtocolError is a server-reported error: the native MySQL
// (errorCode, sqlState, message) triple.
type ProtocolError struct {
	Code     uint16
	SQLState string
	Message  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mysql error %d (%s): %s", e.Code, e.SQLState, e.Message)
}

// StillRunningQueryError reports an attempt to issue a query while one
// is already in flight. RaceLost is set when the attempt lost a race
// for the pending-query slot rather than observing a querying state.
type StillRunningQueryError struct {
	ConnectionID string
	RaceLost     bool
}

func (e *StillRunningQueryError) Error() string {
	return fmt.Sprintf("%s is still running a query", e.ConnectionID)
}

// InsufficientParametersError reports a placeholder/value count
// mismatch in a prepared statement.
type InsufficientParametersError struct {
	Expected int
	Actual   int
}

func (e *InsufficientParametersError) Error() string {
	return fmt.Sprintf("statement has %d placeholders but %d values were given", e.Expected, e.Actual)
}

// NotConnectedError reports an operation on a connection that is not
// in a connected state.
type NotConnectedError struct {
	ConnectionID string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("%s is not connected", e.ConnectionID)
}

// TransportError wraps an underlying I/O failure.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// TimedOutError reports a query that exceeded its configured deadline.
type TimedOutError struct {
	ConnectionID string
	Timeout      time.Duration
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("%s query timed out after %s", e.ConnectionID, e.Timeout)
}

// BufferNotFullyConsumedError is surfaced when a decoded server packet
// left bytes unread in its frame.
type BufferNotFullyConsumedError = packet.BufferNotFullyConsumedError
