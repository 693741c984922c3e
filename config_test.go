package asyncmysql

import "testing"

func TestConfigDefaults(t *testing.T) {
	cfg := Config{User: "app"}.withDefaults()
	if cfg.Host != "localhost" || cfg.Port != 3306 {
		t.Errorf("address defaults: %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.Charset != "utf8mb4" {
		t.Errorf("charset default: %q", cfg.Charset)
	}
	if cfg.SSL != SSLDisable {
		t.Errorf("ssl default: %q", cfg.SSL)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"minimal", Config{User: "app"}, false},
		{"explicit charset", Config{User: "app", Charset: "latin1"}, false},
		{"missing user", Config{}, true},
		{"bad charset", Config{User: "app", Charset: "klingon"}, true},
		{"bad port", Config{User: "app", Port: 70000}, true},
		{"ssl require unsupported", Config{User: "app", SSL: SSLRequire}, true},
		{"ssl prefer", Config{User: "app", SSL: SSLPrefer}, false},
		{"ssl unknown", Config{User: "app", SSL: "verify-full"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.withDefaults().validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewConnectionRejectsUnknownCharset(t *testing.T) {
	if _, err := NewConnection(Config{User: "app", Charset: "nope"}); err == nil {
		t.Fatal("expected construction to fail on unresolvable charset")
	}
}

func TestConnectionCountMonotonic(t *testing.T) {
	a, err := NewConnection(Config{User: "app"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewConnection(Config{User: "app"})
	if err != nil {
		t.Fatal(err)
	}
	if b.Count() <= a.Count() {
		t.Errorf("counts not increasing: %d then %d", a.Count(), b.Count())
	}
	if a.ID() == b.ID() {
		t.Error("ids must be distinct")
	}
}
