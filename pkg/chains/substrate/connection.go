package substrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/sigweihq/dotclaim/pkg/chains"
	"github.com/sigweihq/dotclaim/pkg/constants"
)

// Dialer opens an RPC client for an endpoint
type Dialer func(ctx context.Context, endpoint string) (*rpc.Client, error)

// DefaultDialer dials http(s), ws(s) and IPC endpoints with go-ethereum's client
func DefaultDialer(ctx context.Context, endpoint string) (*rpc.Client, error) {
	return rpc.DialContext(ctx, endpoint)
}

// Connection owns a single ledger client. The dial runs in the background; callers
// take a Lease to use the client and the client is closed once, after Close and
// the last Release.
type Connection struct {
	endpoint string
	logger   *slog.Logger

	mu      sync.Mutex
	client  *rpc.Client
	err     error
	loading bool
	refs    int
	closing bool
	closed  bool
	closes  int

	ready     chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Open starts dialing endpoint and returns immediately
func Open(endpoint string, dial Dialer, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	if dial == nil {
		dial = DefaultDialer
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DialTimeout)
	c := &Connection{
		endpoint: endpoint,
		logger:   logger.With("component", "ledger-connection", "endpoint", endpoint),
		loading:  true,
		ready:    make(chan struct{}),
		cancel:   cancel,
	}

	go func() {
		defer cancel()
		client, err := dial(ctx, endpoint)
		c.finishDial(client, err)
	}()
	return c
}

// NewConnection wraps an already established client
func NewConnection(endpoint string, client *rpc.Client, logger *slog.Logger) *Connection {
	return Open(endpoint, func(context.Context, string) (*rpc.Client, error) {
		return client, nil
	}, logger)
}

func (c *Connection) finishDial(client *rpc.Client, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(c.ready)

	c.loading = false
	switch {
	case c.closing:
		if client != nil {
			client.Close()
			c.closes++
		}
		c.closed = true
		c.err = ErrClosed
	case err != nil:
		c.err = fmt.Errorf("%w: %s: %v", chains.ErrLedgerUnreachable, c.endpoint, err)
		c.logger.Warn("ledger dial failed", "error", err)
	default:
		c.client = client
		c.logger.Info("ledger connected")
	}
}

// Endpoint returns the configured endpoint
func (c *Connection) Endpoint() string {
	return c.endpoint
}

// Loading reports whether the dial is still in flight
func (c *Connection) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the dial error, if the dial has finished and failed
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until the dial completes or ctx is done
func (c *Connection) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acquire waits for the dial and returns a lease on the client
func (c *Connection) Acquire(ctx context.Context) (*Lease, error) {
	if err := c.Wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return nil, ErrClosed
	}
	c.refs++
	return &Lease{conn: c, client: c.client}, nil
}

// Close stops a pending dial and closes the client once no leases remain
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		defer c.mu.Unlock()
		c.closing = true
		if c.refs == 0 {
			c.closeClientLocked()
		}
		c.logger.Debug("ledger connection closing", "leases", c.refs)
	})
}

func (c *Connection) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs--
	if c.closing && c.refs == 0 {
		c.closeClientLocked()
	}
}

func (c *Connection) closeClientLocked() {
	if c.closed || c.client == nil {
		return
	}
	c.client.Close()
	c.closes++
	c.closed = true
}

// Lease is a reference to an open client
type Lease struct {
	conn        *Connection
	client      *rpc.Client
	releaseOnce sync.Once
}

// Client returns the leased client
func (l *Lease) Client() *rpc.Client {
	return l.client
}

// Release returns the lease; calling it more than once is a no-op
func (l *Lease) Release() {
	l.releaseOnce.Do(l.conn.release)
}
