package packet

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// HandshakeResponse carries everything needed to build the client's
// HandshakeResponse41 payload. AuthResponse must already be scrambled
// for the advertised plugin.
type HandshakeResponse struct {
	User         string
	Database     string
	CharsetID    byte
	AuthResponse []byte
	AuthPlugin   string
	Attrs        map[string]string
}

// Encode builds the HandshakeResponse41 payload.
func (h *HandshakeResponse) Encode() []byte {
	caps := ClientProtocol41 |
		ClientLongPassword |
		ClientSecureConnection |
		ClientTransactions |
		ClientMultiResults |
		ClientPluginAuth
	if h.Database != "" {
		caps |= ClientConnectWithDB
	}
	if len(h.Attrs) > 0 {
		caps |= ClientConnectAttrs
	}

	buf := make([]byte, 0, 64+len(h.User)+len(h.AuthResponse)+len(h.Database))
	buf = binary.LittleEndian.AppendUint32(buf, caps)
	buf = binary.LittleEndian.AppendUint32(buf, 1<<24) // max packet size
	buf = append(buf, h.CharsetID)
	buf = append(buf, make([]byte, 23)...) // reserved

	buf = append(buf, h.User...)
	buf = append(buf, 0)

	buf = append(buf, byte(len(h.AuthResponse)))
	buf = append(buf, h.AuthResponse...)

	if h.Database != "" {
		buf = append(buf, h.Database...)
		buf = append(buf, 0)
	}

	buf = append(buf, h.AuthPlugin...)
	buf = append(buf, 0)

	if len(h.Attrs) > 0 {
		var attrs []byte
		for k, v := range h.Attrs {
			attrs = AppendLenEncString(attrs, k)
			attrs = AppendLenEncString(attrs, v)
		}
		buf = AppendLenEncInt(buf, uint64(len(attrs)))
		buf = append(buf, attrs...)
	}
	return buf
}

// EncodeAuthSwitchResponse builds the reply to an AuthSwitchRequest:
// the scrambled credential material, nothing else.
func EncodeAuthSwitchResponse(auth []byte) []byte {
	return append([]byte(nil), auth...)
}

// EncodeComQuery builds a COM_QUERY payload.
func EncodeComQuery(sql string) []byte {
	return append([]byte{ComQuery}, sql...)
}

// EncodeComQuit builds a COM_QUIT payload.
func EncodeComQuit() []byte {
	return []byte{ComQuit}
}

// EncodeComPing builds a COM_PING payload.
func EncodeComPing() []byte {
	return []byte{ComPing}
}

// EncodeComStmtPrepare builds a COM_STMT_PREPARE payload.
func EncodeComStmtPrepare(sql string) []byte {
	return append([]byte{ComStmtPrepare}, sql...)
}

// EncodeComStmtClose builds a COM_STMT_CLOSE payload.
func EncodeComStmtClose(statementID uint32) []byte {
	buf := []byte{ComStmtClose}
	return binary.LittleEndian.AppendUint32(buf, statementID)
}

// EncodeComStmtExecute builds a COM_STMT_EXECUTE payload for args.
// micros controls whether temporal values carry a microsecond component
// (servers before 5.6.0 reject it).
func EncodeComStmtExecute(statementID uint32, args []any, micros bool) ([]byte, error) {
	buf := []byte{ComStmtExecute}
	buf = binary.LittleEndian.AppendUint32(buf, statementID)
	buf = append(buf, 0x00)                         // CURSOR_TYPE_NO_CURSOR
	buf = binary.LittleEndian.AppendUint32(buf, 1) // iteration count

	if len(args) == 0 {
		return buf, nil
	}

	nullMask := make([]byte, (len(args)+7)/8)
	types := make([]byte, 0, len(args)*2)
	var values []byte

	for i, arg := range args {
		switch v := arg.(type) {
		case nil:
			nullMask[i/8] |= 1 << (uint(i) & 7)
			types = append(types, TypeNull, 0x00)
		case bool:
			types = append(types, TypeTiny, 0x00)
			if v {
				values = append(values, 1)
			} else {
				values = append(values, 0)
			}
		case int:
			types = append(types, TypeLongLong, 0x00)
			values = binary.LittleEndian.AppendUint64(values, uint64(int64(v)))
		case int32:
			types = append(types, TypeLong, 0x00)
			values = binary.LittleEndian.AppendUint32(values, uint32(v))
		case int64:
			types = append(types, TypeLongLong, 0x00)
			values = binary.LittleEndian.AppendUint64(values, uint64(v))
		case uint64:
			types = append(types, TypeLongLong, 0x80)
			values = binary.LittleEndian.AppendUint64(values, v)
		case float32:
			types = append(types, TypeFloat, 0x00)
			values = binary.LittleEndian.AppendUint32(values, math.Float32bits(v))
		case float64:
			types = append(types, TypeDouble, 0x00)
			values = binary.LittleEndian.AppendUint64(values, math.Float64bits(v))
		case string:
			types = append(types, TypeString, 0x00)
			values = AppendLenEncString(values, v)
		case []byte:
			if v == nil {
				nullMask[i/8] |= 1 << (uint(i) & 7)
				types = append(types, TypeNull, 0x00)
				continue
			}
			types = append(types, TypeBlob, 0x00)
			values = AppendLenEncBytes(values, v)
		case time.Time:
			types = append(types, TypeDatetime, 0x00)
			values = appendBinaryDateTime(values, v, micros)
		case time.Duration:
			types = append(types, TypeTime, 0x00)
			values = appendBinaryTime(values, v, micros)
		default:
			return nil, fmt.Errorf("cannot encode parameter %d: unsupported type %T", i, arg)
		}
	}

	buf = append(buf, nullMask...)
	buf = append(buf, 0x01) // new-params-bound flag
	buf = append(buf, types...)
	buf = append(buf, values...)
	return buf, nil
}

func appendBinaryDateTime(buf []byte, t time.Time, micros bool) []byte {
	if t.IsZero() {
		return append(buf, 0)
	}
	micro := t.Nanosecond() / 1000
	if micros && micro != 0 {
		buf = append(buf, 11)
	} else {
		buf = append(buf, 7)
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(t.Year()))
	buf = append(buf, byte(t.Month()), byte(t.Day()), byte(t.Hour()), byte(t.Minute()), byte(t.Second()))
	if micros && micro != 0 {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(micro))
	}
	return buf
}

func appendBinaryTime(buf []byte, d time.Duration, micros bool) []byte {
	if d == 0 {
		return append(buf, 0)
	}
	var negative byte
	if d < 0 {
		negative = 1
		d = -d
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	mins := d / time.Minute
	d -= mins * time.Minute
	secs := d / time.Second
	d -= secs * time.Second
	micro := d / time.Microsecond

	if micros && micro != 0 {
		buf = append(buf, 12)
	} else {
		buf = append(buf, 8)
	}
	buf = append(buf, negative)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(days))
	buf = append(buf, byte(hours), byte(mins), byte(secs))
	if micros && micro != 0 {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(micro))
	}
	return buf
}
