package local

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/ValentinKolb/mcache/rpc/server"
)

func startServer(t *testing.T, endpoint string) *server.Server {
	t.Helper()
	srv := server.NewServer(common.ServerConfig{Version: "local-test"})
	st := NewLocalServerTransport()
	st.RegisterHandler(srv.ServeConn)
	if err := st.Listen(common.ServerConfig{Endpoint: endpoint}); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
		srv.Close()
	})
	return srv
}

func readLine(line *string) func(r *bufio.Reader) error {
	return func(r *bufio.Reader) error {
		s, err := r.ReadString('\n')
		*line = strings.TrimSuffix(s, "\r\n")
		return err
	}
}

func TestLocalRoundTrip(t *testing.T) {
	startServer(t, "cache-a:11211")

	ct := NewLocalClientTransport()
	config := common.ClientConfig{Host: "cache-a", ConnectionsPerServer: 2}
	if err := ct.Connect(config); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ct.Close()

	endpoint, _ := config.Endpoints()
	var line string
	if err := ct.Send(context.Background(), endpoint[0], []byte("version\r\n"), readLine(&line)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if line != "VERSION local-test" {
		t.Errorf("response = %q, expected the server version", line)
	}
}

func TestLocalConcurrentSends(t *testing.T) {
	srv := startServer(t, "cache-b:11211")

	ct := NewLocalClientTransport()
	config := common.ClientConfig{Host: "cache-b", ConnectionsPerServer: 4}
	if err := ct.Connect(config); err != nil {
		t.Fatal(err)
	}
	defer ct.Close()
	endpoint, _ := config.Endpoints()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := "set k" + string(rune('a'+i%26)) + string(rune('a'+i/26)) + " 0 0 1\r\nx\r\n"
			var line string
			if err := ct.Send(context.Background(), endpoint[0], []byte(req), readLine(&line)); err != nil {
				t.Errorf("Send failed: %v", err)
				return
			}
			if line != "STORED" {
				t.Errorf("response = %q, expected STORED", line)
			}
		}(i)
	}
	wg.Wait()

	if n := srv.Len(); n != 32 {
		t.Errorf("server holds %d items, expected 32", n)
	}
}

func TestLocalUnknownEndpoint(t *testing.T) {
	ct := NewLocalClientTransport()
	config := common.ClientConfig{Host: "nowhere"}
	if err := ct.Connect(config); err != nil {
		t.Fatal(err)
	}
	defer ct.Close()
	endpoint, _ := config.Endpoints()

	err := ct.Send(context.Background(), endpoint[0], []byte("version\r\n"), func(*bufio.Reader) error { return nil })
	if !errors.Is(err, common.ErrConnection) {
		t.Errorf("expected a connection error, got %v", err)
	}
}

func TestLocalDuplicateListen(t *testing.T) {
	startServer(t, "cache-c:11211")

	st := NewLocalServerTransport()
	st.RegisterHandler(func(c net.Conn) { _ = c.Close() })
	if err := st.Listen(common.ServerConfig{Endpoint: "cache-c:11211"}); err == nil {
		_ = st.Close()
		t.Error("expected listening twice on one endpoint to fail")
	}
}

func TestLocalCanceledRequest(t *testing.T) {
	st := NewLocalServerTransport()
	// never answers
	st.RegisterHandler(func(c net.Conn) {
		buf := make([]byte, 64)
		for {
			if _, err := c.Read(buf); err != nil {
				return
			}
		}
	})
	if err := st.Listen(common.ServerConfig{Endpoint: "silent:11211"}); err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	ct := NewLocalClientTransport()
	config := common.ClientConfig{Host: "silent", TimeoutSecond: 10}
	if err := ct.Connect(config); err != nil {
		t.Fatal(err)
	}
	defer ct.Close()
	endpoint, _ := config.Endpoints()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	var line string
	err := ct.Send(ctx, endpoint[0], []byte("version\r\n"), readLine(&line))
	if !errors.Is(err, common.ErrConnection) {
		t.Errorf("expected a connection error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not interrupt the read")
	}
}

func TestLocalCloseServerDropsPool(t *testing.T) {
	srv := server.NewServer(common.ServerConfig{Version: "local-test"})
	defer srv.Close()
	var accepted atomic.Int32
	st := NewLocalServerTransport()
	st.RegisterHandler(func(c net.Conn) {
		accepted.Add(1)
		srv.ServeConn(c)
	})
	if err := st.Listen(common.ServerConfig{Endpoint: "cache-d:11211"}); err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	ct := NewLocalClientTransport()
	config := common.ClientConfig{Host: "cache-d", ConnectionsPerServer: 1}
	if err := ct.Connect(config); err != nil {
		t.Fatal(err)
	}
	defer ct.Close()
	endpoint, _ := config.Endpoints()

	send := func() {
		t.Helper()
		var line string
		if err := ct.Send(context.Background(), endpoint[0], []byte("version\r\n"), readLine(&line)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		if line != "VERSION local-test" {
			t.Errorf("response = %q, expected the server version", line)
		}
	}

	send()
	send()
	if n := accepted.Load(); n != 1 {
		t.Fatalf("accepted %d connections, expected the pooled one to be reused", n)
	}

	ct.CloseServer(endpoint[0])
	send()
	if n := accepted.Load(); n != 2 {
		t.Errorf("accepted %d connections after CloseServer, expected a fresh dial", n)
	}
}
