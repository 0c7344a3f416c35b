package modbus

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yenshow/ba-backend-sub000/internal/infrastructure/logging"
)

// Default timeouts for field bus communication.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 5 * time.Second
	defaultWriteTimeout   = 5 * time.Second
)

// StateChange describes a connection lifecycle event.
type StateChange struct {
	Endpoint  Endpoint
	Connected bool
	Err       error // nil on connect, the triggering failure on disconnect
}

// Options configures a Pool.
type Options struct {
	// ConnectTimeout bounds the TCP handshake. Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout bounds one request/response exchange. Default: 5 seconds.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing a request frame. Default: 5 seconds.
	WriteTimeout time.Duration

	// Logger is optional; the process default is used when nil.
	Logger *logging.Logger

	// OnStateChange, when set, is invoked after a connection is
	// established or torn down. Called from the operation's goroutine,
	// so it must not block.
	OnStateChange func(StateChange)
}

// Status reports the connection state for one endpoint.
type Status struct {
	Open            bool
	LastConnectedAt time.Time
}

// Stats holds operational counters.
type Stats struct {
	ReadsTotal      uint64
	WritesTotal     uint64
	ErrorsTotal     uint64
	OpenConnections int
}

// conn is one live connection. Its mutex serialises request/response
// cycles: the protocol handles one transaction at a time per
// connection, so concurrent callers queue here rather than interleave
// frames.
type conn struct {
	mu sync.Mutex
	net.Conn
	lastConnectedAt time.Time
}

// inflight is a connect attempt shared by every caller that raced to
// open the same endpoint. Resolved exactly once, then removed from the
// registry.
type inflight struct {
	done chan struct{}
	c    *conn
	err  error
}

// Pool owns one logical connection per endpoint and exposes the
// register read/write operations the pollers are built on.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Operations against the same endpoint are serialised; operations
//     against different endpoints proceed independently.
//
// No retries happen here. A failed operation surfaces a classified
// error and, for connectivity failures, tears the connection down so
// the next call re-establishes it. Retry policy belongs to callers.
type Pool struct {
	opts   Options
	logger *logging.Logger

	mu         sync.Mutex
	conns      map[Endpoint]*conn
	connecting map[Endpoint]*inflight
	closed     bool

	txID atomic.Uint32

	readsTotal  atomic.Uint64
	writesTotal atomic.Uint64
	errorsTotal atomic.Uint64
}

// NewPool creates a connection pool with the given options.
func NewPool(opts Options) *Pool {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Pool{
		opts:       opts,
		logger:     logger,
		conns:      make(map[Endpoint]*conn),
		connecting: make(map[Endpoint]*inflight),
	}
}

// ReadRegisters reads quantity registers starting at address from the
// selected register table.
func (p *Pool) ReadRegisters(ctx context.Context, ep Endpoint, kind RegisterKind, address, quantity uint16) ([]uint16, error) {
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	if quantity == 0 || quantity > maxReadQuantity {
		return nil, fmt.Errorf("%w: quantity %d out of range 1..%d", ErrValidation, quantity, maxReadQuantity)
	}
	if int(address)+int(quantity) > 0x10000 {
		return nil, fmt.Errorf("%w: address %d + quantity %d exceeds register space", ErrValidation, address, quantity)
	}

	c, err := p.acquire(ctx, ep)
	if err != nil {
		p.errorsTotal.Add(1)
		return nil, err
	}

	txID := uint16(p.txID.Add(1))
	frame := encodeRead(txID, ep.UnitID, kind, address, quantity)

	body, err := p.exchange(ctx, ep, c, txID, kind.function(), frame)
	if err != nil {
		p.errorsTotal.Add(1)
		return nil, err
	}

	values, err := parseReadValues(body, quantity)
	if err != nil {
		p.errorsTotal.Add(1)
		return nil, err
	}

	p.readsTotal.Add(1)
	return values, nil
}

// WriteRegister writes one holding register.
func (p *Pool) WriteRegister(ctx context.Context, ep Endpoint, address, value uint16) error {
	return p.writeSingle(ctx, ep, fnWriteRegister, address, value)
}

// WriteCoil writes one boolean output.
func (p *Pool) WriteCoil(ctx context.Context, ep Endpoint, address uint16, on bool) error {
	return p.writeSingle(ctx, ep, fnWriteCoil, address, coilValue(on))
}

func (p *Pool) writeSingle(ctx context.Context, ep Endpoint, function byte, address, value uint16) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	c, err := p.acquire(ctx, ep)
	if err != nil {
		p.errorsTotal.Add(1)
		return err
	}

	txID := uint16(p.txID.Add(1))
	frame := encodeWriteSingle(txID, ep.UnitID, function, address, value)

	body, err := p.exchange(ctx, ep, c, txID, function, frame)
	if err != nil {
		p.errorsTotal.Add(1)
		return err
	}

	// Echo check: a write response repeats address and value.
	if len(body) < 4 {
		p.errorsTotal.Add(1)
		return fmt.Errorf("%w: short write echo", ErrProtocol)
	}

	p.writesTotal.Add(1)
	return nil
}

// Status reports whether an endpoint currently has an open connection.
func (p *Pool) Status(ep Endpoint) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[ep]
	if !ok {
		return Status{}
	}
	return Status{Open: true, LastConnectedAt: c.lastConnectedAt}
}

// Stats returns operational counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	open := len(p.conns)
	p.mu.Unlock()
	return Stats{
		ReadsTotal:      p.readsTotal.Load(),
		WritesTotal:     p.writesTotal.Load(),
		ErrorsTotal:     p.errorsTotal.Load(),
		OpenConnections: open,
	}
}

// Close tears down the connection for one endpoint, if open.
func (p *Pool) Close(ep Endpoint) {
	p.mu.Lock()
	c, ok := p.conns[ep]
	delete(p.conns, ep)
	p.mu.Unlock()
	if ok {
		c.Conn.Close() //nolint:errcheck // Best-effort teardown
		p.notify(StateChange{Endpoint: ep, Connected: false})
	}
}

// CloseAll shuts the pool down. Subsequent operations fail with
// ErrClosed.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[Endpoint]*conn)
	p.closed = true
	p.mu.Unlock()

	for ep, c := range conns {
		c.Conn.Close() //nolint:errcheck // Best-effort teardown
		p.notify(StateChange{Endpoint: ep, Connected: false})
	}
}

// acquire returns the live connection for an endpoint, dialling
// lazily. Concurrent callers racing to open the same endpoint share a
// single in-flight connect attempt.
func (p *Pool) acquire(ctx context.Context, ep Endpoint) (*conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if c, ok := p.conns[ep]; ok {
		p.mu.Unlock()
		return c, nil
	}
	if fl, ok := p.connecting[ep]; ok {
		p.mu.Unlock()
		select {
		case <-fl.done:
			return fl.c, fl.err
		case <-ctx.Done():
			return nil, classify(ctx.Err())
		}
	}

	fl := &inflight{done: make(chan struct{})}
	p.connecting[ep] = fl
	p.mu.Unlock()

	fl.c, fl.err = p.dial(ctx, ep)

	p.mu.Lock()
	delete(p.connecting, ep)
	if fl.err == nil {
		if p.closed {
			fl.c.Conn.Close() //nolint:errcheck // Pool shut down mid-dial
			fl.c, fl.err = nil, ErrClosed
		} else {
			p.conns[ep] = fl.c
		}
	}
	p.mu.Unlock()
	close(fl.done)

	if fl.err == nil {
		p.logger.Info("field bus connected", "endpoint", ep.String())
		p.notify(StateChange{Endpoint: ep, Connected: true})
	}
	return fl.c, fl.err
}

// dial opens a TCP connection to the endpoint with the connect timeout.
func (p *Pool) dial(ctx context.Context, ep Endpoint) (*conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	netConn, err := dialer.DialContext(dialCtx, "tcp", ep.Addr())
	if err != nil {
		classified := classify(err)
		p.logger.Warn("field bus connect failed", "endpoint", ep.String(), "error", classified)
		return nil, classified
	}
	return &conn{Conn: netConn, lastConnectedAt: time.Now()}, nil
}

// exchange performs one serialised request/response cycle on the
// connection and returns the response body.
func (p *Pool) exchange(ctx context.Context, ep Endpoint, c *conn, txID uint16, function byte, frame []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Conn.SetWriteDeadline(deadline(ctx, p.opts.WriteTimeout)); err != nil {
		p.drop(ep, c, err)
		return nil, classify(err)
	}
	if _, err := c.Conn.Write(frame); err != nil {
		p.drop(ep, c, err)
		return nil, classify(err)
	}

	if err := c.Conn.SetReadDeadline(deadline(ctx, p.opts.ReadTimeout)); err != nil {
		p.drop(ep, c, err)
		return nil, classify(err)
	}

	header := make([]byte, mbapHeaderLen)
	if _, err := io.ReadFull(c.Conn, header); err != nil {
		p.drop(ep, c, err)
		return nil, classify(err)
	}

	pduLen, err := parseHeader(header, txID, ep.UnitID)
	if err != nil {
		// A header mismatch means the stream has desynchronised;
		// the connection cannot be trusted for the next request.
		p.drop(ep, c, err)
		return nil, err
	}

	pdu := make([]byte, pduLen)
	if _, err := io.ReadFull(c.Conn, pdu); err != nil {
		p.drop(ep, c, err)
		return nil, classify(err)
	}

	// From here the stream is aligned: an exception response is a
	// healthy connection carrying a peer rejection.
	return parsePDU(pdu, function)
}

// drop removes a connection from the registry and closes it. Safe to
// call for a connection that has already been replaced.
func (p *Pool) drop(ep Endpoint, c *conn, cause error) {
	p.mu.Lock()
	if current, ok := p.conns[ep]; ok && current == c {
		delete(p.conns, ep)
	}
	p.mu.Unlock()

	c.Conn.Close() //nolint:errcheck // Best-effort teardown
	p.logger.Warn("field bus connection dropped", "endpoint", ep.String(), "error", cause)
	p.notify(StateChange{Endpoint: ep, Connected: false, Err: cause})
}

func (p *Pool) notify(sc StateChange) {
	if p.opts.OnStateChange != nil {
		p.opts.OnStateChange(sc)
	}
}

// deadline computes an absolute deadline from the operation timeout,
// tightened by the context deadline when that is sooner.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		d = ctxDeadline
	}
	return d
}
