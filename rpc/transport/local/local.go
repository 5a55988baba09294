package local

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/ValentinKolb/mcache/rpc/transport"
	"github.com/ValentinKolb/mcache/rpc/transport/base"
	"github.com/puzpuzpuz/xsync/v3"
)

// listeners holds every open local listener by endpoint name
var listeners = xsync.NewMapOf[string, *pipeListener]()

// clientConnector implements the IClientConnector interface for in-process pipes
type clientConnector struct{}

// serverConnector implements the IServerConnector interface for in-process pipes
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "local"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint common.ServerEndpoint) (net.Conn, error) {
	l, ok := listeners.Load(endpoint.Address())
	if !ok {
		return nil, fmt.Errorf("no local server listening on %s", endpoint.Address())
	}
	return l.dial(ctx)
}

func (c *clientConnector) UpgradeConnection(net.Conn, common.ClientConfig) error {
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "local"
}

func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	endpoint, err := common.ParseServerEndpoint(config.Endpoint)
	if err != nil {
		return nil, err
	}
	l := &pipeListener{
		addr:  pipeAddr(endpoint.Address()),
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
	if _, loaded := listeners.LoadOrStore(string(l.addr), l); loaded {
		return nil, fmt.Errorf("local endpoint %s is already in use", l.addr)
	}
	return l, nil
}

func (c *serverConnector) UpgradeConnection(net.Conn, common.ServerConfig) error {
	return nil
}

// --------------------------------------------------------------------------
// Pipe Listener
// --------------------------------------------------------------------------

type pipeAddr string

func (a pipeAddr) Network() string { return "local" }
func (a pipeAddr) String() string  { return string(a) }

// pipeListener hands out the server ends of net.Pipe connections
type pipeListener struct {
	addr      pipeAddr
	conns     chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (l *pipeListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *pipeListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		listeners.Compute(string(l.addr), func(old *pipeListener, loaded bool) (*pipeListener, bool) {
			return old, old == l
		})
	})
	return nil
}

func (l *pipeListener) Addr() net.Addr {
	return l.addr
}

// dial waits until the accept loop takes the server end of a new pipe
func (l *pipeListener) dial(ctx context.Context) (net.Conn, error) {
	client, server := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.done:
	case <-ctx.Done():
	}
	_ = client.Close()
	_ = server.Close()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, net.ErrClosed
}

// --------------------------------------------------------------------------
// Transport Factory Methods
// --------------------------------------------------------------------------

// NewLocalClientTransport creates a client transport connecting to local
// server transports of the same process
func NewLocalClientTransport() transport.IClientTransport {
	return base.NewBaseClientTransport(&clientConnector{})
}

// NewLocalServerTransport creates a server transport reachable only from
// local client transports. The endpoint is a name in host:port form and no
// socket is opened.
func NewLocalServerTransport() transport.IServerTransport {
	return base.NewBaseServerTransport(&serverConnector{})
}
