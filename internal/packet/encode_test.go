package packet

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestHandshakeResponseEncode(t *testing.T) {
	auth := bytes.Repeat([]byte{0xab}, 20)
	resp := &HandshakeResponse{
		User:         "app",
		Database:     "orders",
		CharsetID:    45,
		AuthResponse: auth,
		AuthPlugin:   AuthNativePassword,
	}
	payload := resp.Encode()

	caps := binary.LittleEndian.Uint32(payload[:4])
	for _, want := range []uint32{ClientProtocol41, ClientSecureConnection, ClientPluginAuth, ClientConnectWithDB, ClientMultiResults} {
		if caps&want == 0 {
			t.Errorf("capability 0x%x not advertised", want)
		}
	}
	if payload[8] != 45 {
		t.Errorf("charset = %d, want 45", payload[8])
	}

	// User starts after the 32-byte fixed prefix.
	rest := payload[32:]
	i := bytes.IndexByte(rest, 0)
	if string(rest[:i]) != "app" {
		t.Errorf("user = %q", rest[:i])
	}
	rest = rest[i+1:]
	if int(rest[0]) != len(auth) {
		t.Fatalf("auth length = %d, want %d", rest[0], len(auth))
	}
	if !bytes.Equal(rest[1:1+len(auth)], auth) {
		t.Error("auth response corrupted")
	}
	rest = rest[1+len(auth):]
	i = bytes.IndexByte(rest, 0)
	if string(rest[:i]) != "orders" {
		t.Errorf("database = %q", rest[:i])
	}
	rest = rest[i+1:]
	i = bytes.IndexByte(rest, 0)
	if string(rest[:i]) != AuthNativePassword {
		t.Errorf("plugin = %q", rest[:i])
	}
}

func TestHandshakeResponseAttrs(t *testing.T) {
	resp := &HandshakeResponse{
		User:       "app",
		CharsetID:  33,
		AuthPlugin: AuthNativePassword,
		Attrs:      map[string]string{"program_name": "mysqlcheck"},
	}
	payload := resp.Encode()
	caps := binary.LittleEndian.Uint32(payload[:4])
	if caps&ClientConnectAttrs == 0 {
		t.Error("connect-attrs capability not advertised")
	}
	if !bytes.Contains(payload, []byte("program_name")) || !bytes.Contains(payload, []byte("mysqlcheck")) {
		t.Error("attributes missing from payload")
	}
}

func TestEncodeCommands(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"quit", EncodeComQuit(), []byte{ComQuit}},
		{"ping", EncodeComPing(), []byte{ComPing}},
		{"query", EncodeComQuery("SELECT 1"), append([]byte{ComQuery}, "SELECT 1"...)},
		{"prepare", EncodeComStmtPrepare("SELECT ?"), append([]byte{ComStmtPrepare}, "SELECT ?"...)},
		{"stmt close", EncodeComStmtClose(7), []byte{ComStmtClose, 7, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestEncodeComStmtExecuteNoArgs(t *testing.T) {
	payload, err := EncodeComStmtExecute(9, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{ComStmtExecute, 9, 0, 0, 0, 0x00, 1, 0, 0, 0}
	if !bytes.Equal(payload, want) {
		t.Errorf("got %v, want %v", payload, want)
	}
}

func TestEncodeComStmtExecuteArgs(t *testing.T) {
	payload, err := EncodeComStmtExecute(1, []any{int64(5), nil, "hi"}, true)
	if err != nil {
		t.Fatal(err)
	}
	// Header: cmd + id(4) + flags + iterations(4) = 10 bytes.
	rest := payload[10:]
	if rest[0] != 0x02 {
		t.Errorf("null mask = 0x%02x, want 0x02", rest[0])
	}
	if rest[1] != 0x01 {
		t.Errorf("new-params-bound flag = %d", rest[1])
	}
	types := rest[2:8]
	wantTypes := []byte{TypeLongLong, 0x00, TypeNull, 0x00, TypeString, 0x00}
	if !bytes.Equal(types, wantTypes) {
		t.Errorf("types = %v, want %v", types, wantTypes)
	}
	values := rest[8:]
	if binary.LittleEndian.Uint64(values[:8]) != 5 {
		t.Errorf("int value = %v", values[:8])
	}
	if values[8] != 2 || string(values[9:11]) != "hi" {
		t.Errorf("string value = %v", values[8:])
	}
}

func TestEncodeComStmtExecuteUnsupported(t *testing.T) {
	if _, err := EncodeComStmtExecute(1, []any{struct{}{}}, true); err == nil {
		t.Fatal("expected error for unsupported parameter type")
	}
}
