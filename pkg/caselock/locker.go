package caselock

import "context"

// Locker binds a Client and fixed Options to the two-argument lease shape
// the graph coordinator expects.
type Locker struct {
	client *Client
	opts   Options
}

// NewLocker creates a Locker. opts apply to every lease it takes.
func NewLocker(client *Client, opts Options) *Locker {
	return &Locker{client: client, opts: opts}
}

// WithLease runs fn under the lease for key.
func (l *Locker) WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.client.WithLease(ctx, key, l.opts, fn)
}
