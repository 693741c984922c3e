package asyncmysql

import (
	"context"
	"log/slog"
)

// InTransaction brackets body in BEGIN/COMMIT, rolling back when body
// returns an error and propagating that error. Nested transactions are
// not supported.
func (c *Connection) InTransaction(ctx context.Context, body func(context.Context) error) error {
	if _, err := c.Query(ctx, "BEGIN"); err != nil {
		return err
	}
	if err := body(ctx); err != nil {
		if _, rbErr := c.Query(ctx, "ROLLBACK"); rbErr != nil {
			slog.Warn("rollback failed", "conn", c.id, "err", rbErr)
		}
		return err
	}
	_, err := c.Query(ctx, "COMMIT")
	return err
}
