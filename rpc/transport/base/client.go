package base

import (
	"bufio"
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/ValentinKolb/mcache/rpc/transport"
	"github.com/jackc/puddle/v2"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(ctx context.Context, endpoint common.ServerEndpoint) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// clientConnection is one pooled connection with its buffers
type clientConnection struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// clientTransport keeps one connection pool per server address
type clientTransport struct {
	connector IClientConnector
	config    common.ClientConfig
	pools     *xsync.MapOf[string, *puddle.Pool[*clientConnection]]
	closed    atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IClientTransport {
	return &clientTransport{
		connector: connector,
		pools:     xsync.NewMapOf[string, *puddle.Pool[*clientConnection]](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if _, err := config.Endpoints(); err != nil {
		return err
	}
	t.closePools()
	t.config = config
	t.closed.Store(false)

	Logger.Infof("Using %s transport with up to %d connections per server, timeout %d sec",
		t.connector.GetName(), config.PoolSize(), config.Timeout())
	return nil
}

func (t *clientTransport) Send(ctx context.Context, server common.ServerEndpoint, req []byte, read transport.ResponseReader) error {
	if t.closed.Load() {
		return common.NewConnectionError(nil, "transport is closed").WithServer(server.Address())
	}

	res, err := t.pool(server).Acquire(ctx)
	if err != nil {
		Logger.Debugf("Failed to acquire connection to %s: %v", server.Address(), err)
		return common.NewConnectionError(err, "acquire connection").WithServer(server.Address())
	}
	cn := res.Value()

	err = t.exchange(ctx, cn, req, read)
	condRelease(res, err)
	if err != nil {
		return common.AsError(err).WithServer(server.Address())
	}
	return nil
}

func (t *clientTransport) CloseServer(server common.ServerEndpoint) {
	if pool, ok := t.pools.LoadAndDelete(server.Address()); ok {
		pool.Close()
		Logger.Infof("Closed connections to %s", server.Address())
	}
}

func (t *clientTransport) Close() error {
	t.closed.Store(true)
	t.closePools()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// pool returns the pool of the server, creating it on first use
func (t *clientTransport) pool(server common.ServerEndpoint) *puddle.Pool[*clientConnection] {
	pool, _ := t.pools.LoadOrCompute(server.Address(), func() *puddle.Pool[*clientConnection] {
		pool, err := puddle.NewPool(&puddle.Config[*clientConnection]{
			Constructor: func(ctx context.Context) (*clientConnection, error) {
				return t.dial(ctx, server)
			},
			Destructor: func(cn *clientConnection) {
				_ = cn.conn.Close()
			},
			MaxSize: int32(t.config.PoolSize()),
		})
		if err != nil {
			// only returned for MaxSize < 1, which PoolSize rules out
			Logger.Panicf("invalid pool configuration: %v", err)
		}
		return pool
	})
	return pool
}

// dial opens and upgrades a new connection
func (t *clientTransport) dial(ctx context.Context, server common.ServerEndpoint) (*clientConnection, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(t.config.Timeout())*time.Second)
	defer cancel()

	conn, err := t.connector.Connect(ctx, server)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", server.Address())
	}
	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "upgrade connection to %s", server.Address())
	}
	Logger.Debugf("Opened %s connection to %s", t.connector.GetName(), server.Address())

	return &clientConnection{
		conn: conn,
		r:    bufio.NewReaderSize(conn, bufferSize(t.config.Transport.ReadBufferSize)),
		w:    bufio.NewWriterSize(conn, bufferSize(t.config.Transport.WriteBufferSize)),
	}, nil
}

// exchange writes the request and reads the response within the deadline
func (t *clientTransport) exchange(ctx context.Context, cn *clientConnection, req []byte, read transport.ResponseReader) error {
	deadline := time.Now().Add(time.Duration(t.config.Timeout()) * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := cn.conn.SetDeadline(deadline); err != nil {
		return common.NewConnectionError(err, "set deadline")
	}

	// cancellation unblocks pending reads and writes by expiring the deadline
	stop := context.AfterFunc(ctx, func() {
		_ = cn.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := cn.w.Write(req); err != nil {
		return common.NewConnectionError(err, "write request")
	}
	if err := cn.w.Flush(); err != nil {
		return common.NewConnectionError(err, "write request")
	}
	if err := read(cn.r); err != nil {
		if ctx.Err() != nil {
			return common.NewConnectionError(ctx.Err(), "request canceled")
		}
		return err
	}
	return nil
}

// condRelease returns the connection to its pool unless the error left the
// stream in an unknown state, in which case the connection is destroyed
func condRelease(res *puddle.Resource[*clientConnection], err error) {
	if err == nil || !common.IsConnectionError(common.AsError(err)) {
		_ = res.Value().conn.SetDeadline(time.Time{})
		res.Release()
		return
	}
	res.Destroy()
}

// closePools closes every pool and forgets it
func (t *clientTransport) closePools() {
	t.pools.Range(func(addr string, pool *puddle.Pool[*clientConnection]) bool {
		t.pools.Delete(addr)
		pool.Close()
		return true
	})
}

func bufferSize(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
