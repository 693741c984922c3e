package health

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/asyncmysql/asyncmysql/internal/config"
	"github.com/asyncmysql/asyncmysql/internal/metrics"
	"github.com/asyncmysql/asyncmysql/internal/packet"
)

// fakeServer speaks just enough of the wire protocol to satisfy a
// probe: greeting, auth OK, then OK for every command until quit.
type fakeServer struct {
	ln net.Listener
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &fakeServer{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *fakeServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.session(conn)
	}
}

func (s *fakeServer) session(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	writeFrame(conn, 0, greeting())
	if _, _, err := readFrame(conn); err != nil {
		return
	}
	writeFrame(conn, 2, okPacket())

	for {
		cmd, _, err := readFrame(conn)
		if err != nil || len(cmd) == 0 || cmd[0] == packet.ComQuit {
			return
		}
		writeFrame(conn, 1, okPacket())
	}
}

func greeting() []byte {
	seed := make([]byte, 20)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	var buf []byte
	buf = append(buf, 10)
	buf = append(buf, "5.7.26-log"...)
	buf = append(buf, 0)
	buf = append(buf, 1, 0, 0, 0)
	buf = append(buf, seed[:8]...)
	buf = append(buf, 0)
	caps := packet.ClientProtocol41 | packet.ClientSecureConnection | packet.ClientPluginAuth
	buf = append(buf, byte(caps), byte(caps>>8))
	buf = append(buf, 33)
	buf = append(buf, 0x02, 0x00)
	buf = append(buf, byte(caps>>16), byte(caps>>24))
	buf = append(buf, 21)
	buf = append(buf, make([]byte, 10)...)
	buf = append(buf, seed[8:]...)
	buf = append(buf, 0)
	buf = append(buf, "mysql_native_password"...)
	buf = append(buf, 0)
	return buf
}

func okPacket() []byte {
	return []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}
}

func writeFrame(conn net.Conn, seq byte, payload []byte) {
	hdr := []byte{byte(len(payload)), byte(len(payload) >> 8), byte(len(payload) >> 16), seq}
	conn.Write(append(hdr, payload...))
}

func readFrame(conn net.Conn) ([]byte, byte, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return nil, 0, err
	}
	length := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, 0, err
	}
	return payload, hdr[3], nil
}

func testConfig(targets map[string]config.TargetConfig) *config.Config {
	return &config.Config{
		Defaults: config.ProbeDefaults{
			Interval:       time.Hour, // probes driven manually in tests
			ConnectTimeout: time.Second,
			QueryTimeout:   time.Second,
			Query:          "SELECT 1",
		},
		Targets: targets,
	}
}

func TestProbeHealthyTarget(t *testing.T) {
	srv := newFakeServer(t)
	cfg := testConfig(map[string]config.TargetConfig{
		"primary": {Host: "127.0.0.1", Port: srv.port(), Username: "monitor", Password: "pw"},
	})

	c := NewChecker(cfg, metrics.New())
	c.checkAll()

	if !c.IsHealthy("primary") {
		t.Fatalf("target should be healthy: %+v", c.GetStatus("primary"))
	}
	st := c.GetStatus("primary")
	if st.Status != StatusHealthy {
		t.Errorf("status = %v", st.Status)
	}
	if st.ServerVersion != "5.7.26" {
		t.Errorf("server version = %q", st.ServerVersion)
	}
	if st.LastCheck.IsZero() {
		t.Error("last check not recorded")
	}
}

func TestProbeUnreachableTarget(t *testing.T) {
	// Grab a port and close it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := testConfig(map[string]config.TargetConfig{
		"down": {Host: "127.0.0.1", Port: port, Username: "monitor"},
	})

	c := NewChecker(cfg, metrics.New())
	c.checkAll()

	if c.IsHealthy("down") {
		t.Fatal("unreachable target reported healthy")
	}
	if st := c.GetStatus("down"); st.LastError == "" {
		t.Error("last error not recorded")
	}
}

func TestUnknownTargetCountsHealthy(t *testing.T) {
	c := NewChecker(testConfig(nil), nil)
	if !c.IsHealthy("never-probed") {
		t.Error("unknown targets must pass until first probe")
	}
}

func TestReloadDropsRemovedTargets(t *testing.T) {
	srv := newFakeServer(t)
	tc := config.TargetConfig{Host: "127.0.0.1", Port: srv.port(), Username: "monitor"}
	c := NewChecker(testConfig(map[string]config.TargetConfig{"a": tc, "b": tc}), metrics.New())
	c.checkAll()

	if len(c.GetAllStatuses()) != 2 {
		t.Fatalf("statuses = %d", len(c.GetAllStatuses()))
	}

	c.Reload(testConfig(map[string]config.TargetConfig{"a": tc}))
	statuses := c.GetAllStatuses()
	if _, ok := statuses["b"]; ok {
		t.Error("removed target kept its status")
	}
	if _, ok := statuses["a"]; !ok {
		t.Error("kept target lost its status")
	}
}

func TestTargetsRedacted(t *testing.T) {
	tc := config.TargetConfig{Host: "h", Port: 3306, Username: "u", Password: "secret"}
	c := NewChecker(testConfig(map[string]config.TargetConfig{"a": tc}), nil)
	if got := c.Targets()["a"].Password; got == "secret" {
		t.Errorf("password leaked: %q", got)
	}
}

func TestOverallHealthy(t *testing.T) {
	srv := newFakeServer(t)
	cfg := testConfig(map[string]config.TargetConfig{
		"up": {Host: "127.0.0.1", Port: srv.port(), Username: "monitor"},
	})
	c := NewChecker(cfg, nil)
	if !c.OverallHealthy() {
		t.Error("no statuses yet, must report healthy")
	}
	c.checkAll()
	if !c.OverallHealthy() {
		t.Error("healthy target must keep overall healthy")
	}
}

func TestStartStop(t *testing.T) {
	srv := newFakeServer(t)
	cfg := testConfig(map[string]config.TargetConfig{
		"primary": {Host: "127.0.0.1", Port: srv.port(), Username: "monitor"},
	})
	c := NewChecker(cfg, metrics.New())
	c.Start()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.GetStatus("primary").Status == StatusHealthy {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.Stop()
	c.Stop() // idempotent

	if c.GetStatus("primary").Status != StatusHealthy {
		t.Error("initial probe never completed")
	}
}
