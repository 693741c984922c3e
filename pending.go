package asyncmysql

import (
	"context"
	"sync"
)

// Pending is the completion handle for an in-flight query. It is
// single-shot: exactly one of a result or an error is delivered, and
// later completion attempts are ignored.
type Pending struct {
	once sync.Once
	done chan struct{}
	res  *QueryResult
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) complete(res *QueryResult, err error) {
	p.once.Do(func() {
		p.res = res
		p.err = err
		close(p.done)
	})
}

// Done is closed when the query has completed or failed.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome. It must only be called after Done is
// closed.
func (p *Pending) Result() (*QueryResult, error) {
	return p.res, p.err
}

// Wait blocks until the query completes or ctx expires. A context
// error does not cancel the query; the connection-side contract is
// unchanged.
func (p *Pending) Wait(ctx context.Context) (*QueryResult, error) {
	select {
	case <-p.done:
		return p.res, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
