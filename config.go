package asyncmysql

import (
	"fmt"
	"time"

	"github.com/asyncmysql/asyncmysql/internal/charset"
)

// SSLMode is the TLS negotiation policy. Negotiation itself is handled
// by a TLS-capable transport; this driver core only carries the policy.
type SSLMode string

const (
	SSLDisable SSLMode = "disable"
	SSLPrefer  SSLMode = "prefer"
	SSLRequire SSLMode = "require"
)

// Config holds the connection settings for a single MySQL connection.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// Charset must resolve through the charset mapper. Defaults to
	// utf8mb4.
	Charset string

	// QueryTimeout bounds each query; zero disables timeouts.
	QueryTimeout time.Duration

	// ConnectTimeout bounds the TCP dial. Zero means no limit beyond
	// the caller's context.
	ConnectTimeout time.Duration

	SSL SSLMode

	// ApplicationName is sent to the server as a connection attribute.
	ApplicationName string
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 3306
	}
	if c.Charset == "" {
		c.Charset = "utf8mb4"
	}
	if c.SSL == "" {
		c.SSL = SSLDisable
	}
	return c
}

// validate resolves the charset and checks the settings a connection
// cannot be constructed without.
func (c Config) validate() (charsetID uint8, err error) {
	if c.User == "" {
		return 0, fmt.Errorf("config: user is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return 0, fmt.Errorf("config: invalid port %d", c.Port)
	}
	switch c.SSL {
	case SSLDisable, SSLPrefer:
	case SSLRequire:
		return 0, fmt.Errorf("config: ssl=require needs a TLS-capable transport")
	default:
		return 0, fmt.Errorf("config: unknown ssl mode %q", c.SSL)
	}
	id, err := charset.Resolve(c.Charset)
	if err != nil {
		return 0, fmt.Errorf("config: %w", err)
	}
	return id, nil
}
