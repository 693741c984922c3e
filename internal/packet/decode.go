package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"
)

// reader walks a packet payload. The first decode error sticks; finish
// reports it, or a BufferNotFullyConsumedError when bytes remain.
type reader struct {
	data []byte
	pos  int
	err  error
}

var errTruncated = fmt.Errorf("mysql packet truncated")

func (r *reader) fail() {
	if r.err == nil {
		r.err = errTruncated
	}
}

func (r *reader) byte() byte {
	if r.err != nil || r.pos >= len(r.data) {
		r.fail()
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *reader) uint16() uint16 {
	if r.err != nil || r.pos+2 > len(r.data) {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) uint32() uint32 {
	if r.err != nil || r.pos+4 > len(r.data) {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) skip(n int) {
	if r.err != nil || r.pos+n > len(r.data) {
		r.fail()
		return
	}
	r.pos += n
}

func (r *reader) bytesN(n int) []byte {
	if r.err != nil || r.pos+n > len(r.data) {
		r.fail()
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) nulString() string {
	if r.err != nil {
		return ""
	}
	i := bytes.IndexByte(r.data[r.pos:], 0)
	if i < 0 {
		r.fail()
		return ""
	}
	s := string(r.data[r.pos : r.pos+i])
	r.pos += i + 1
	return s
}

func (r *reader) lenencInt() uint64 {
	v, _, n := ReadLenEncInt(r.data[r.pos:])
	if n == 0 {
		r.fail()
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) lenencBytes() (b []byte, isNull bool) {
	v, isNull, n := ReadLenEncInt(r.data[r.pos:])
	if n == 0 {
		r.fail()
		return nil, false
	}
	r.pos += n
	if isNull {
		return nil, true
	}
	return r.bytesN(int(v)), false
}

func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}

func (r *reader) remaining() int { return len(r.data) - r.pos }

func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.pos != len(r.data) {
		return &BufferNotFullyConsumedError{Remaining: len(r.data) - r.pos}
	}
	return nil
}

// Handshake is the server's initial Protocol::Handshake (v10).
type Handshake struct {
	ProtocolVersion byte
	ServerVersion   string
	ConnectionID    uint32
	AuthSeed        []byte
	Capabilities    uint32
	CharsetID       byte
	StatusFlags     uint16
	AuthPlugin      string
}

// ParseHandshake decodes the initial handshake packet.
func ParseHandshake(payload []byte) (*Handshake, error) {
	r := &reader{data: payload}
	h := &Handshake{}

	h.ProtocolVersion = r.byte()
	if r.err == nil && h.ProtocolVersion != 10 {
		return nil, fmt.Errorf("unsupported mysql protocol version %d", h.ProtocolVersion)
	}
	h.ServerVersion = r.nulString()
	h.ConnectionID = r.uint32()
	h.AuthSeed = append([]byte(nil), r.bytesN(8)...)
	r.skip(1) // filler
	h.Capabilities = uint32(r.uint16())

	if r.remaining() > 0 {
		h.CharsetID = r.byte()
		h.StatusFlags = r.uint16()
		h.Capabilities |= uint32(r.uint16()) << 16
		authLen := int(r.byte())
		r.skip(10) // reserved

		if h.Capabilities&ClientSecureConnection != 0 {
			// Second seed part: at least 13 bytes, NUL terminated.
			n := 13
			if authLen-8 > n {
				n = authLen - 8
			}
			part := r.bytesN(n)
			part = bytes.TrimRight(part, "\x00")
			h.AuthSeed = append(h.AuthSeed, part...)
		}
		if h.Capabilities&ClientPluginAuth != 0 {
			h.AuthPlugin = r.nulString()
		}
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return h, nil
}

// OK is the server's OK_Packet.
type OK struct {
	AffectedRows uint64
	LastInsertID uint64
	StatusFlags  uint16
	Warnings     uint16
	Message      string
}

// ParseOK decodes an OK_Packet payload.
func ParseOK(payload []byte) (*OK, error) {
	r := &reader{data: payload}
	ok := &OK{}
	r.skip(1) // 0x00 header
	ok.AffectedRows = r.lenencInt()
	ok.LastInsertID = r.lenencInt()
	ok.StatusFlags = r.uint16()
	ok.Warnings = r.uint16()
	ok.Message = string(r.rest())
	if err := r.finish(); err != nil {
		return nil, err
	}
	return ok, nil
}

// Err is the server's ERR_Packet.
type Err struct {
	Code     uint16
	SQLState string
	Message  string
}

// ParseErr decodes an ERR_Packet payload.
func ParseErr(payload []byte) (*Err, error) {
	r := &reader{data: payload}
	e := &Err{}
	r.skip(1) // 0xff header
	e.Code = r.uint16()
	if r.err == nil && r.remaining() > 0 && r.data[r.pos] == '#' {
		r.skip(1)
		e.SQLState = string(r.bytesN(5))
	}
	e.Message = string(r.rest())
	if err := r.finish(); err != nil {
		return nil, err
	}
	return e, nil
}

// EOF is the server's EOF_Packet.
type EOF struct {
	Warnings    uint16
	StatusFlags uint16
}

// IsEOF reports whether payload is an EOF_Packet rather than a row or
// column definition whose first length byte happens to be 0xfe.
func IsEOF(payload []byte) bool {
	return len(payload) > 0 && payload[0] == EOFHeader && len(payload) < 9
}

// ParseEOF decodes an EOF_Packet payload. The old single-byte form is
// accepted with zero flags.
func ParseEOF(payload []byte) (*EOF, error) {
	if len(payload) == 1 && payload[0] == EOFHeader {
		return &EOF{}, nil
	}
	r := &reader{data: payload}
	e := &EOF{}
	r.skip(1) // 0xfe header
	e.Warnings = r.uint16()
	e.StatusFlags = r.uint16()
	if err := r.finish(); err != nil {
		return nil, err
	}
	return e, nil
}

// AuthSwitchRequest asks the client to redo authentication with another
// plugin and a fresh seed.
type AuthSwitchRequest struct {
	Plugin string
	Seed   []byte
}

// ParseAuthSwitchRequest decodes an AuthSwitchRequest payload.
func ParseAuthSwitchRequest(payload []byte) (*AuthSwitchRequest, error) {
	r := &reader{data: payload}
	a := &AuthSwitchRequest{}
	r.skip(1) // 0xfe header
	a.Plugin = r.nulString()
	a.Seed = bytes.TrimRight(r.rest(), "\x00")
	if err := r.finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// ColumnDefinition is one ColumnDefinition41 record.
type ColumnDefinition struct {
	Schema    string
	Table     string
	Name      string
	CharsetID uint16
	Length    uint32
	Type      byte
	Flags     uint16
	Decimals  byte
}

// ParseColumnDefinition decodes a ColumnDefinition41 payload.
func ParseColumnDefinition(payload []byte) (*ColumnDefinition, error) {
	r := &reader{data: payload}
	c := &ColumnDefinition{}
	r.lenencBytes() // catalog
	schema, _ := r.lenencBytes()
	c.Schema = string(schema)
	table, _ := r.lenencBytes()
	c.Table = string(table)
	r.lenencBytes() // org table
	name, _ := r.lenencBytes()
	c.Name = string(name)
	r.lenencBytes() // org name
	r.lenencInt()   // fixed-length fields marker (0x0c)
	c.CharsetID = r.uint16()
	c.Length = r.uint32()
	c.Type = r.byte()
	c.Flags = r.uint16()
	c.Decimals = r.byte()
	r.skip(2) // filler
	if err := r.finish(); err != nil {
		return nil, err
	}
	return c, nil
}

// PrepareOK is the server's COM_STMT_PREPARE_OK response header.
type PrepareOK struct {
	StatementID uint32
	ColumnCount uint16
	ParamCount  uint16
	Warnings    uint16
}

// ParsePrepareOK decodes a COM_STMT_PREPARE_OK payload.
func ParsePrepareOK(payload []byte) (*PrepareOK, error) {
	r := &reader{data: payload}
	p := &PrepareOK{}
	r.skip(1) // 0x00 header
	p.StatementID = r.uint32()
	p.ColumnCount = r.uint16()
	p.ParamCount = r.uint16()
	r.skip(1) // filler
	p.Warnings = r.uint16()
	if err := r.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseResultSetHeader decodes the column-count packet that opens a
// result set.
func ParseResultSetHeader(payload []byte) (int, error) {
	r := &reader{data: payload}
	n := r.lenencInt()
	if err := r.finish(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// DecodeTextRow decodes a ProtocolText::ResultsetRow against cols.
func DecodeTextRow(payload []byte, cols []*ColumnDefinition) ([]any, error) {
	r := &reader{data: payload}
	row := make([]any, len(cols))
	for i, col := range cols {
		raw, isNull := r.lenencBytes()
		if r.err != nil {
			return nil, r.err
		}
		if isNull {
			row[i] = nil
			continue
		}
		v, err := convertTextValue(raw, col)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return row, nil
}

func convertTextValue(raw []byte, col *ColumnDefinition) (any, error) {
	switch col.Type {
	case TypeTiny, TypeShort, TypeInt24, TypeLong, TypeYear:
		return strconv.ParseInt(string(raw), 10, 64)
	case TypeLongLong:
		if col.Flags&FlagUnsigned != 0 {
			return strconv.ParseUint(string(raw), 10, 64)
		}
		return strconv.ParseInt(string(raw), 10, 64)
	case TypeFloat:
		f, err := strconv.ParseFloat(string(raw), 32)
		return float32(f), err
	case TypeDouble:
		return strconv.ParseFloat(string(raw), 64)
	default:
		return string(raw), nil
	}
}

// DecodeBinaryRow decodes a binary-protocol resultset row against cols.
func DecodeBinaryRow(payload []byte, cols []*ColumnDefinition) ([]any, error) {
	r := &reader{data: payload}
	if r.byte() != OKHeader {
		return nil, fmt.Errorf("binary row missing 0x00 marker")
	}
	maskLen := (len(cols) + 7 + 2) / 8
	nullMask := r.bytesN(maskLen)
	if r.err != nil {
		return nil, r.err
	}

	row := make([]any, len(cols))
	for i, col := range cols {
		if nullMask[(i+2)/8]>>(uint(i+2)&7)&1 == 1 {
			row[i] = nil
			continue
		}
		v, err := decodeBinaryValue(r, col)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return row, nil
}

func decodeBinaryValue(r *reader, col *ColumnDefinition) (any, error) {
	unsigned := col.Flags&FlagUnsigned != 0
	switch col.Type {
	case TypeNull:
		return nil, nil
	case TypeTiny:
		b := r.byte()
		if unsigned {
			return int64(b), nil
		}
		return int64(int8(b)), nil
	case TypeShort, TypeYear:
		v := r.uint16()
		if unsigned {
			return int64(v), nil
		}
		return int64(int16(v)), nil
	case TypeInt24, TypeLong:
		v := r.uint32()
		if unsigned {
			return int64(v), nil
		}
		return int64(int32(v)), nil
	case TypeLongLong:
		lo := r.uint32()
		hi := r.uint32()
		v := uint64(lo) | uint64(hi)<<32
		if unsigned {
			return v, nil
		}
		return int64(v), nil
	case TypeFloat:
		return math.Float32frombits(r.uint32()), nil
	case TypeDouble:
		return math.Float64frombits(uint64(r.uint32()) | uint64(r.uint32())<<32), nil
	case TypeDate, TypeNewDate, TypeDatetime, TypeTimestamp:
		return decodeBinaryDateTime(r)
	case TypeTime:
		return decodeBinaryTime(r)
	default:
		raw, isNull := r.lenencBytes()
		if isNull {
			return nil, nil
		}
		return string(raw), nil
	}
}

func decodeBinaryDateTime(r *reader) (any, error) {
	n := int(r.byte())
	if r.err != nil {
		return nil, r.err
	}
	var year, month, day, hour, min, sec, micro int
	switch n {
	case 0:
	case 4:
		year = int(r.uint16())
		month = int(r.byte())
		day = int(r.byte())
	case 7:
		year = int(r.uint16())
		month = int(r.byte())
		day = int(r.byte())
		hour = int(r.byte())
		min = int(r.byte())
		sec = int(r.byte())
	case 11:
		year = int(r.uint16())
		month = int(r.byte())
		day = int(r.byte())
		hour = int(r.byte())
		min = int(r.byte())
		sec = int(r.byte())
		micro = int(r.uint32())
	default:
		return nil, fmt.Errorf("invalid binary datetime length %d", n)
	}
	if r.err != nil {
		return nil, r.err
	}
	if n == 0 {
		return time.Time{}, nil
	}
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, micro*1000, time.UTC), nil
}

func decodeBinaryTime(r *reader) (any, error) {
	n := int(r.byte())
	if r.err != nil {
		return nil, r.err
	}
	if n == 0 {
		return time.Duration(0), nil
	}
	if n != 8 && n != 12 {
		return nil, fmt.Errorf("invalid binary time length %d", n)
	}
	negative := r.byte() == 1
	days := int64(r.uint32())
	hour := int64(r.byte())
	min := int64(r.byte())
	sec := int64(r.byte())
	var micro int64
	if n == 12 {
		micro = int64(r.uint32())
	}
	if r.err != nil {
		return nil, r.err
	}
	d := time.Duration(days*24+hour)*time.Hour +
		time.Duration(min)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(micro)*time.Microsecond
	if negative {
		d = -d
	}
	return d, nil
}
