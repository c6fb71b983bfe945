package caselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	// ErrBusy is returned by a non-waiting Acquire when another holder owns
	// the case lease.
	ErrBusy = errors.New("case lease busy")
	// ErrLost cancels the lease context when a renew discovers the lease was
	// taken over (e.g. after this process stalled past the TTL).
	ErrLost = errors.New("case lease lost")
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client takes per-case leases backed by the case_locks table, so the API
// server and the ingest worker never merge turns of the same case
// concurrently. Leases expire on their own if the holder dies.
type Client struct {
	db dbConn
}

// New creates a lease client over the shared connection pool.
func New(pool *pgxpool.Pool) *Client {
	return &Client{db: pool}
}

// Options tunes lease behavior. Zero values mean: 2 minute TTL, renewal at
// half the TTL, wait for a busy lease, 250ms wait interval.
type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	// NoWait makes Acquire fail with ErrBusy instead of polling. Turn
	// processing wants the default queueing behavior.
	NoWait       bool
	WaitInterval time.Duration
	WaitJitter   time.Duration
}

// Lease is a held case lease. Context is canceled when the lease is lost or
// released; work under the lease should run off it.
type Lease struct {
	CaseID string
	Token  string

	Context context.Context

	client *Client
	cancel context.CancelCauseFunc

	stopOnce sync.Once
	stopCh   chan struct{}
}

// WithLease acquires the lease for caseID, runs fn under the lease context
// and releases the lease afterwards.
func (c *Client) WithLease(ctx context.Context, caseID string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, caseID, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()
	return fn(lease.Context)
}

// Acquire takes the lease for caseID, waiting for a busy lease unless
// opts.NoWait is set. The returned lease renews itself until released.
func (c *Client) Acquire(ctx context.Context, caseID string, opts Options) (*Lease, error) {
	if caseID == "" {
		return nil, errors.New("case lease id is empty")
	}

	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Minute
	}
	ttlMs := opts.TTL.Milliseconds()
	if opts.RenewEvery <= 0 || opts.RenewEvery >= opts.TTL {
		opts.RenewEvery = max(opts.TTL/2, time.Second)
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = 250 * time.Millisecond
	}
	if opts.WaitJitter < 0 {
		opts.WaitJitter = 0
	}

	tok, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	acquireOnce := func(ctx context.Context) (bool, error) {
		var returnedID string
		err := c.db.QueryRow(ctx, tryAcquireSQL, caseID, tok, ttlMs).Scan(&returnedID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return false, nil
			}
			return false, err
		}
		return returnedID != "", nil
	}

	for {
		ok, err := acquireOnce(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if opts.NoWait {
			return nil, ErrBusy
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		CaseID:  caseID,
		Token:   tok,
		Context: leaseCtx,
		client:  c,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}

	go l.renewLoop(opts, ttlMs)

	return l, nil
}

// Release gives the lease back. Safe to call more than once.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})

	_, err := l.client.db.Exec(ctx, releaseSQL, l.CaseID, l.Token)
	return err
}

func (l *Lease) renewLoop(opts Options, ttlMs int64) {
	t := time.NewTicker(opts.RenewEvery)
	defer t.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renewOnce(ttlMs); err != nil {
				l.cancel(err)
				return
			}
		}
	}
}

func (l *Lease) renewOnce(ttlMs int64) error {
	for attempt := range 3 {
		renewCtx, cancel := context.WithTimeout(l.Context, 15*time.Second)
		var returnedID string
		err := l.client.db.QueryRow(renewCtx, renewSQL, l.CaseID, l.Token, ttlMs).Scan(&returnedID)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLost
		}
		if attempt == 2 {
			return err
		}
		if err := sleepWithJitter(l.Context, 200*time.Millisecond, 0); err != nil {
			return err
		}
	}
	return ErrLost
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const tryAcquireSQL = `
INSERT INTO case_locks (case_id, holder_token, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (case_id) DO UPDATE
SET holder_token = EXCLUDED.holder_token,
    expires_at   = EXCLUDED.expires_at
WHERE case_locks.expires_at < now()
   OR case_locks.holder_token = EXCLUDED.holder_token
RETURNING case_id;
`

const renewSQL = `
UPDATE case_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE case_id = $1 AND holder_token = $2
RETURNING case_id;
`

const releaseSQL = `
DELETE FROM case_locks
WHERE case_id = $1 AND holder_token = $2;
`
