package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/ValentinKolb/mcache/rpc/server"
	"github.com/ValentinKolb/mcache/rpc/transport"
	"github.com/ValentinKolb/mcache/rpc/transport/local"
)

var clusterSeq atomic.Int64

// testCluster is a set of in-process servers reachable over the local transport
type testCluster struct {
	addrs      []string
	servers    []*server.Server
	transports []transport.IServerTransport
}

func startCluster(t *testing.T, n int) *testCluster {
	t.Helper()
	id := clusterSeq.Add(1)
	tc := &testCluster{}
	for i := 0; i < n; i++ {
		addr := fmt.Sprintf("cluster-%d-%d:11211", id, i)
		srv := server.NewServer(common.ServerConfig{Version: fmt.Sprintf("v%d", i)})
		st := local.NewLocalServerTransport()
		st.RegisterHandler(srv.ServeConn)
		if err := st.Listen(common.ServerConfig{Endpoint: addr}); err != nil {
			t.Fatalf("Listen(%s) failed: %v", addr, err)
		}
		t.Cleanup(func() {
			_ = st.Close()
			srv.Close()
		})
		tc.addrs = append(tc.addrs, addr)
		tc.servers = append(tc.servers, srv)
		tc.transports = append(tc.transports, st)
	}
	return tc
}

func (tc *testCluster) items() int {
	n := 0
	for _, srv := range tc.servers {
		n += srv.Len()
	}
	return n
}

func newTestClient(t *testing.T, tc *testCluster, binary bool, mutate func(*common.ClientConfig)) *Client {
	t.Helper()
	config := common.ClientConfig{
		Servers:              tc.addrs,
		Binary:               binary,
		Distribution:         common.DistKetama,
		TimeoutSecond:        2,
		ConnectionsPerServer: 2,
	}
	if mutate != nil {
		mutate(&config)
	}
	c, err := NewCacheClient(config, local.NewLocalClientTransport())
	if err != nil {
		t.Fatalf("NewCacheClient failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// forDialects runs the test once per wire dialect
func forDialects(t *testing.T, test func(t *testing.T, binary bool)) {
	for _, d := range []struct {
		name   string
		binary bool
	}{{"text", false}, {"binary", true}} {
		t.Run(d.name, func(t *testing.T) { test(t, d.binary) })
	}
}

// --------------------------------------------------------------------------
// Single Key Commands
// --------------------------------------------------------------------------

func TestGetSet(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		ctx := context.Background()
		c := newTestClient(t, startCluster(t, 3), binary, nil)

		entry, err := c.Get(ctx, "missing")
		if err != nil || entry != nil {
			t.Fatalf("Get on missing key = (%v, %v), expected (nil, nil)", entry, err)
		}

		keys := []string{"plain", "with space", "tab\tnewline\n", `back\slash`}
		for i, key := range keys {
			value := []byte(fmt.Sprintf("value-%d", i))
			stored, err := c.Set(ctx, key, value, 0, uint32(i))
			if err != nil || !bytes.Equal(stored, value) {
				t.Fatalf("Set(%q) = (%q, %v)", key, stored, err)
			}
			entry, err := c.Get(ctx, key)
			if err != nil || entry == nil {
				t.Fatalf("Get(%q) = (%v, %v)", key, entry, err)
			}
			expected := common.Entry{Key: key, Value: value, Flags: uint32(i)}
			if !reflect.DeepEqual(*entry, expected) {
				t.Errorf("Get(%q) = %+v, expected %+v", key, *entry, expected)
			}
		}
	})
}

func TestAddReplaceAsymmetry(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		ctx := context.Background()
		c := newTestClient(t, startCluster(t, 2), binary, nil)

		if v, err := c.Replace(ctx, "k", []byte("r"), 0, 0); err != nil || v != nil {
			t.Errorf("Replace on missing key = (%q, %v), expected not stored", v, err)
		}
		if v, err := c.Add(ctx, "k", []byte("a"), 0, 0); err != nil || string(v) != "a" {
			t.Errorf("Add on missing key = (%q, %v), expected stored", v, err)
		}
		if v, err := c.Add(ctx, "k", []byte("b"), 0, 0); err != nil || v != nil {
			t.Errorf("Add on existing key = (%q, %v), expected not stored", v, err)
		}
		if v, err := c.Replace(ctx, "k", []byte("r"), 0, 0); err != nil || string(v) != "r" {
			t.Errorf("Replace on existing key = (%q, %v), expected stored", v, err)
		}
		if v, err := c.Set(ctx, "k", []byte("s"), 0, 0); err != nil || string(v) != "s" {
			t.Errorf("Set on existing key = (%q, %v), expected stored", v, err)
		}
	})
}

func TestCas(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		ctx := context.Background()
		c := newTestClient(t, startCluster(t, 2), binary, nil)

		if _, err := c.Set(ctx, "k", []byte("v1"), 0, 0); err != nil {
			t.Fatal(err)
		}
		stale, err := c.GetWithCas(ctx, "k")
		if err != nil || stale == nil || !stale.HasCas {
			t.Fatalf("GetWithCas = (%+v, %v), expected an entry with cas", stale, err)
		}

		// another writer updates the key
		if _, err := c.Set(ctx, "k", []byte("v2"), 0, 0); err != nil {
			t.Fatal(err)
		}
		if v, err := c.Cas(ctx, "k", []byte("v3"), stale.CasToken, 0, 0); err != nil || v != nil {
			t.Errorf("Cas with stale token = (%q, %v), expected conflict", v, err)
		}

		fresh, _ := c.GetWithCas(ctx, "k")
		if v, err := c.Cas(ctx, "k", []byte("v3"), fresh.CasToken, 0, 0); err != nil || string(v) != "v3" {
			t.Errorf("Cas with current token = (%q, %v), expected stored", v, err)
		}
		if entry, _ := c.Get(ctx, "k"); entry == nil || string(entry.Value) != "v3" {
			t.Errorf("value after cas = %+v, expected v3", entry)
		}

		if v, err := c.Cas(ctx, "gone", []byte("x"), fresh.CasToken, 0, 0); err != nil || v != nil {
			t.Errorf("Cas on missing key = (%q, %v), expected not found", v, err)
		}
	})
}

func TestCasRejectsZeroToken(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		ctx := context.Background()
		c := newTestClient(t, startCluster(t, 1), binary, nil)

		if _, err := c.Set(ctx, "k", []byte("v1"), 0, 0); err != nil {
			t.Fatal(err)
		}
		entry, err := c.Get(ctx, "k")
		if err != nil || entry == nil || entry.HasCas || entry.CasToken != 0 {
			t.Fatalf("Get = (%+v, %v), expected an entry without cas", entry, err)
		}
		if v, err := c.Cas(ctx, "k", []byte("v2"), entry.CasToken, 0, 0); !errors.Is(err, common.ErrInvalidArgument) || v != nil {
			t.Errorf("Cas with zero token = (%q, %v), expected an invalid argument error", v, err)
		}
		if entry, _ := c.Get(ctx, "k"); entry == nil || string(entry.Value) != "v1" {
			t.Errorf("value after rejected cas = %+v, expected v1", entry)
		}
	})
}

func TestIncrDecr(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		ctx := context.Background()
		c := newTestClient(t, startCluster(t, 2), binary, nil)

		if n, ok, err := c.Incr(ctx, "counter", 1); err != nil || ok || n != 0 {
			t.Errorf("Incr on missing key = (%d, %v, %v), expected (0, false, nil)", n, ok, err)
		}

		if _, err := c.Set(ctx, "counter", []byte("5"), 0, 0); err != nil {
			t.Fatal(err)
		}
		if n, ok, err := c.Decr(ctx, "counter", 100); err != nil || !ok || n != 0 {
			t.Errorf("Decr below zero = (%d, %v, %v), expected 0", n, ok, err)
		}
		if n, ok, err := c.Incr(ctx, "counter", 7); err != nil || !ok || n != 7 {
			t.Errorf("Incr = (%d, %v, %v), expected 7", n, ok, err)
		}
		if n, ok, err := c.Count(ctx, "counter"); err != nil || !ok || n != 7 {
			t.Errorf("Count = (%d, %v, %v), expected 7", n, ok, err)
		}

		if _, err := c.Set(ctx, "text", []byte("abc"), 0, 0); err != nil {
			t.Fatal(err)
		}
		if _, _, err := c.Incr(ctx, "text", 1); !errors.Is(err, common.ErrClient) {
			t.Errorf("Incr on non numeric value = %v, expected a client error", err)
		}
		if _, _, err := c.Count(ctx, "text"); !errors.Is(err, common.ErrClient) {
			t.Errorf("Count on non numeric value = %v, expected a client error", err)
		}
	})
}

func TestAppendPrependDelete(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		ctx := context.Background()
		c := newTestClient(t, startCluster(t, 2), binary, nil)

		if ok, err := c.Append(ctx, "k", []byte("x")); err != nil || ok {
			t.Errorf("Append on missing key = (%v, %v), expected false", ok, err)
		}
		if _, err := c.Set(ctx, "k", []byte("mid"), 0, 3); err != nil {
			t.Fatal(err)
		}
		if ok, err := c.Append(ctx, "k", []byte(">")); err != nil || !ok {
			t.Errorf("Append = (%v, %v), expected true", ok, err)
		}
		if ok, err := c.Prepend(ctx, "k", []byte("<")); err != nil || !ok {
			t.Errorf("Prepend = (%v, %v), expected true", ok, err)
		}
		entry, _ := c.Get(ctx, "k")
		if entry == nil || string(entry.Value) != "<mid>" || entry.Flags != 3 {
			t.Errorf("value after append and prepend = %+v", entry)
		}

		if ok, err := c.Delete(ctx, "k"); err != nil || !ok {
			t.Errorf("Delete = (%v, %v), expected true", ok, err)
		}
		if ok, err := c.Delete(ctx, "k"); err != nil || ok {
			t.Errorf("Delete on missing key = (%v, %v), expected false", ok, err)
		}
	})
}

func TestInvalidArguments(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, startCluster(t, 1), false, nil)

	testCases := []struct {
		name string
		call func() error
	}{
		{"empty key", func() error { _, err := c.Get(ctx, ""); return err }},
		{"nil value", func() error { _, err := c.Set(ctx, "k", nil, 0, 0); return err }},
		{"long key", func() error { _, err := c.Get(ctx, strings.Repeat("k", 251)); return err }},
		{"long escaped key", func() error { _, err := c.Delete(ctx, strings.Repeat(" ", 126)); return err }},
		{"empty key in multi get", func() error { _, err := c.GetMulti(ctx, []string{"a", ""}); return err }},
		{"long key in multi get", func() error { _, err := c.GetMulti(ctx, []string{"a", strings.Repeat("k", 251)}); return err }},
		{"long escaped key in multi get", func() error { _, err := c.GetMulti(ctx, []string{"a", strings.Repeat(" ", 126)}); return err }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			if !errors.Is(err, common.ErrInvalidArgument) {
				t.Errorf("expected an invalid argument error, got %v", err)
			}
			var multi *common.MultiError
			if errors.As(err, &multi) {
				t.Errorf("argument errors must fail before the fan out, got %v", err)
			}
		})
	}
}

// --------------------------------------------------------------------------
// Multi Get and Cluster Commands
// --------------------------------------------------------------------------

func TestGetMulti(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		ctx := context.Background()
		tc := startCluster(t, 3)
		c := newTestClient(t, tc, binary, nil)

		empty, err := c.GetMulti(ctx, nil)
		if err != nil || len(empty) != 0 {
			t.Errorf("GetMulti(nil) = (%v, %v), expected an empty map", empty, err)
		}

		expected := map[string]*common.Entry{}
		var keys []string
		for i := 0; i < 30; i++ {
			key := fmt.Sprintf("key-%d", i)
			keys = append(keys, key)
			if i%3 == 1 {
				continue // absent
			}
			value := []byte(fmt.Sprintf("v%d", i))
			if _, err := c.Set(ctx, key, value, 0, uint32(i)); err != nil {
				t.Fatal(err)
			}
			expected[key] = &common.Entry{Key: key, Value: value, Flags: uint32(i)}
		}
		keys = append(keys, "key-0", "key-2") // duplicates

		got, err := c.GetMulti(ctx, keys)
		if err != nil {
			t.Fatalf("GetMulti failed: %v", err)
		}
		if !reflect.DeepEqual(got, expected) {
			t.Errorf("GetMulti returned %d entries, expected %d", len(got), len(expected))
		}

		withCas, err := c.GetMultiWithCas(ctx, []string{"key-0", "key-1"})
		if err != nil || len(withCas) != 1 || !withCas["key-0"].HasCas {
			t.Errorf("GetMultiWithCas = (%v, %v), expected key-0 with cas", withCas, err)
		}

		used := 0
		for _, srv := range tc.servers {
			if srv.Len() > 0 {
				used++
			}
		}
		if used < 2 {
			t.Errorf("keys landed on %d servers, expected them to be spread", used)
		}
	})
}

func TestGetMultiPartialFailure(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		ctx := context.Background()
		tc := startCluster(t, 2)
		c := newTestClient(t, tc, binary, nil)

		// pick keys owned by each server
		owned := map[string][]string{}
		for i := 0; len(owned[tc.addrs[0]]) < 3 || len(owned[tc.addrs[1]]) < 3; i++ {
			key := fmt.Sprintf("k%d", i)
			rk, _ := c.route(key)
			owned[rk.server.Address()] = append(owned[rk.server.Address()], key)
		}
		var keys []string
		keys = append(keys, owned[tc.addrs[0]][:3]...)
		keys = append(keys, owned[tc.addrs[1]][:3]...)
		for _, k := range keys {
			if _, err := c.Set(ctx, k, []byte(k), 0, 0); err != nil {
				t.Fatal(err)
			}
		}

		_ = tc.transports[1].Close()

		got, err := c.GetMulti(ctx, keys)
		var multi *common.MultiError
		if !errors.As(err, &multi) {
			t.Fatalf("expected a MultiError, got %v", err)
		}
		if _, ok := multi.PerServer[tc.addrs[1]]; !ok || len(multi.PerServer) != 1 {
			t.Errorf("failed servers = %v, expected only %s", multi.PerServer, tc.addrs[1])
		}
		if !errors.Is(err, common.ErrConnection) {
			t.Errorf("expected the failure to be a connection error, got %v", err)
		}
		for _, k := range owned[tc.addrs[0]][:3] {
			if got[k] == nil {
				t.Errorf("entry of healthy server missing for %s", k)
			}
		}
		if len(got) != 3 {
			t.Errorf("got %d entries, expected 3", len(got))
		}
	})
}

func TestFlush(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		ctx := context.Background()
		tc := startCluster(t, 3)
		c := newTestClient(t, tc, binary, nil)

		for i := 0; i < 20; i++ {
			if _, err := c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0, 0); err != nil {
				t.Fatal(err)
			}
		}

		if err := c.FlushStaggered(ctx, 60, 10); err != nil {
			t.Fatalf("FlushStaggered failed: %v", err)
		}
		if n := tc.items(); n != 20 {
			t.Errorf("delayed flush removed items early, %d left", n)
		}

		if err := c.Flush(ctx, 0); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if n := tc.items(); n != 0 {
			t.Errorf("%d items left after flush", n)
		}
	})
}

func TestStats(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		ctx := context.Background()
		tc := startCluster(t, 2)
		c := newTestClient(t, tc, binary, nil)

		for i := 0; i < 10; i++ {
			if _, err := c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0, 0); err != nil {
				t.Fatal(err)
			}
		}

		stats, err := c.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if len(stats) != 2 {
			t.Fatalf("Stats answered for %d servers, expected 2", len(stats))
		}
		for i, addr := range tc.addrs {
			s := stats[addr]
			if s["version"] != fmt.Sprintf("v%d", i) {
				t.Errorf("version of %s = %q", addr, s["version"])
			}
			if s["curr_items"] != fmt.Sprint(tc.servers[i].Len()) {
				t.Errorf("curr_items of %s = %q, expected %d", addr, s["curr_items"], tc.servers[i].Len())
			}
		}

		_ = tc.transports[1].Close()
		stats, err = c.Stats(ctx)
		var multi *common.MultiError
		if !errors.As(err, &multi) || len(stats) != 1 || stats[tc.addrs[0]] == nil {
			t.Errorf("Stats with one server down = (%v, %v), expected the healthy server and a MultiError", stats, err)
		}
	})
}

func TestVersion(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		tc := startCluster(t, 2)
		c := newTestClient(t, tc, binary, nil)

		versions, err := c.Version(context.Background())
		if err != nil {
			t.Fatalf("Version failed: %v", err)
		}
		expected := map[string]string{tc.addrs[0]: "v0", tc.addrs[1]: "v1"}
		if !reflect.DeepEqual(versions, expected) {
			t.Errorf("Version = %v, expected %v", versions, expected)
		}
	})
}

// --------------------------------------------------------------------------
// Prefix and Namespaces
// --------------------------------------------------------------------------

func TestPrefix(t *testing.T) {
	ctx := context.Background()
	tc := startCluster(t, 3)
	c := newTestClient(t, tc, false, func(config *common.ClientConfig) {
		config.Prefix = "app:"
		config.HashWithPrefix = true
	})
	raw := newTestClient(t, tc, false, nil)

	if c.Prefix() != "app:" {
		t.Errorf("Prefix = %q", c.Prefix())
	}
	if _, err := c.Set(ctx, "k", []byte("v"), 0, 0); err != nil {
		t.Fatal(err)
	}
	if entry, _ := raw.Get(ctx, "app:k"); entry == nil {
		t.Error("prefixed key not found on the server")
	}
	if entry, _ := c.Get(ctx, "k"); entry == nil || entry.Key != "k" {
		t.Errorf("Get through prefix = %+v, expected caller key k", entry)
	}
	multi, _ := c.GetMulti(ctx, []string{"k"})
	if _, ok := multi["k"]; !ok {
		t.Errorf("GetMulti keys = %v, expected the caller key", multi)
	}

	ns := c.WithNamespace("sessions")
	if ns.Prefix() != "app:sessions:" {
		t.Errorf("namespace prefix = %q", ns.Prefix())
	}
	if _, err := ns.Set(ctx, "s1", []byte("v"), 0, 0); err != nil {
		t.Fatal(err)
	}
	if entry, _ := raw.Get(ctx, "app:sessions:s1"); entry == nil {
		t.Error("namespaced key not found on the server")
	}

	ns.SetPrefix("other:")
	if c.Prefix() != "app:" {
		t.Errorf("namespace changed the parent prefix to %q", c.Prefix())
	}
}

func TestHashWithPrefix(t *testing.T) {
	tc := startCluster(t, 5)
	var keys []string
	for i := 0; i < 50; i++ {
		keys = append(keys, fmt.Sprintf("key-%d", i))
	}

	routes := func(prefix string, hashWithPrefix bool) []string {
		c := newTestClient(t, tc, false, func(config *common.ClientConfig) {
			config.Prefix = prefix
			config.HashWithPrefix = hashWithPrefix
		})
		var out []string
		for _, k := range keys {
			rk, _ := c.route(k)
			out = append(out, rk.server.Address())
		}
		return out
	}

	if !reflect.DeepEqual(routes("a:", false), routes("b:", false)) {
		t.Error("routing must ignore the prefix when HashWithPrefix is off")
	}
	if reflect.DeepEqual(routes("a:", true), routes("b:", true)) {
		t.Error("routing must depend on the prefix when HashWithPrefix is on")
	}
}

// --------------------------------------------------------------------------
// Recipes
// --------------------------------------------------------------------------

func TestUpdate(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		ctx := context.Background()
		c := newTestClient(t, startCluster(t, 2), binary, nil)

		appendX := func(old []byte) []byte { return append(append([]byte{}, old...), 'x') }

		if v, err := c.Update(ctx, "k", 0, appendX); err != nil || string(v) != "x" {
			t.Errorf("Update on missing key = (%q, %v), expected x", v, err)
		}
		if v, err := c.Update(ctx, "k", 0, appendX); err != nil || string(v) != "xx" {
			t.Errorf("Update = (%q, %v), expected xx", v, err)
		}

		// a concurrent writer inside fn makes the cas fail
		v, err := c.Update(ctx, "k", 0, func(old []byte) []byte {
			_, _ = c.Set(ctx, "k", []byte("other"), 0, 0)
			return []byte("lost")
		})
		if err != nil || v != nil {
			t.Errorf("Update racing a writer = (%q, %v), expected nil", v, err)
		}
	})
}

func TestGetOrAdd(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, startCluster(t, 2), false, nil)

	if v, err := c.GetOrAdd(ctx, "k", []byte("first"), 0); err != nil || string(v) != "first" {
		t.Errorf("GetOrAdd on missing key = (%q, %v), expected first", v, err)
	}
	if v, err := c.GetOrAdd(ctx, "k", []byte("second"), 0); err != nil || string(v) != "first" {
		t.Errorf("GetOrAdd on existing key = (%q, %v), expected first", v, err)
	}
}

func TestGetOrSet(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, startCluster(t, 2), true, nil)

	calls := 0
	compute := func() ([]byte, error) {
		calls++
		return []byte(fmt.Sprintf("computed-%d", calls)), nil
	}
	if v, err := c.GetOrSet(ctx, "k", 0, compute); err != nil || string(v) != "computed-1" {
		t.Errorf("GetOrSet on missing key = (%q, %v), expected computed-1", v, err)
	}
	if v, err := c.GetOrSet(ctx, "k", 0, compute); err != nil || string(v) != "computed-1" || calls != 1 {
		t.Errorf("GetOrSet on existing key = (%q, %v) after %d calls, expected the cached value", v, err, calls)
	}

	failure := errors.New("backend down")
	_, err := c.GetOrSet(ctx, "other", 0, func() ([]byte, error) { return nil, failure })
	if !errors.Is(err, failure) {
		t.Errorf("GetOrSet with a failing fn = %v, expected %v", err, failure)
	}
}

func TestAddOrGet(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		ctx := context.Background()
		c := newTestClient(t, startCluster(t, 2), binary, nil)

		if v, err := c.AddOrGet(ctx, "k", []byte("first"), 0); err != nil || string(v) != "first" {
			t.Errorf("AddOrGet on missing key = (%q, %v), expected first", v, err)
		}
		if v, err := c.AddOrGet(ctx, "k", []byte("second"), 0); err != nil || string(v) != "first" {
			t.Errorf("AddOrGet on existing key = (%q, %v), expected first", v, err)
		}
	})
}

func TestGetSome(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		ctx := context.Background()
		c := newTestClient(t, startCluster(t, 3), binary, nil)

		if _, err := c.Set(ctx, "a", []byte("cached-a"), 0, 0); err != nil {
			t.Fatal(err)
		}
		if _, err := c.Set(ctx, "stale", []byte("old"), 0, 0); err != nil {
			t.Fatal(err)
		}

		var asked []string
		fetch := func(_ context.Context, missing []string) (map[string][]byte, error) {
			asked = append(asked, missing...)
			found := map[string][]byte{}
			for _, k := range missing {
				if k != "nowhere" {
					found[k] = []byte("fetched-" + k)
				}
			}
			return found, nil
		}
		opts := GetSomeOptions{
			Validate: func(key string, e *common.Entry) bool { return string(e.Value) != "old" },
		}

		got, err := c.GetSome(ctx, []string{"a", "b", "stale", "nowhere", "b"}, opts, fetch)
		if err != nil {
			t.Fatalf("GetSome failed: %v", err)
		}
		expected := map[string][]byte{
			"a":     []byte("cached-a"),
			"b":     []byte("fetched-b"),
			"stale": []byte("fetched-stale"),
		}
		if !reflect.DeepEqual(got, expected) {
			t.Errorf("GetSome = %q, expected %q", got, expected)
		}
		if !reflect.DeepEqual(asked, []string{"b", "stale", "nowhere"}) {
			t.Errorf("fetch asked for %v", asked)
		}

		// b was added, stale kept its value because add does not overwrite
		if e, _ := c.Get(ctx, "b"); e == nil || string(e.Value) != "fetched-b" {
			t.Errorf("b after write back = %+v", e)
		}
		if e, _ := c.Get(ctx, "stale"); e == nil || string(e.Value) != "old" {
			t.Errorf("stale after add write back = %+v, expected old", e)
		}

		opts.Overwrite = true
		if _, err := c.GetSome(ctx, []string{"stale"}, opts, fetch); err != nil {
			t.Fatal(err)
		}
		if e, _ := c.Get(ctx, "stale"); e == nil || string(e.Value) != "fetched-stale" {
			t.Errorf("stale after set write back = %+v, expected fetched-stale", e)
		}

		asked = nil
		opts.DisableWrite = true
		if _, err := c.GetSome(ctx, []string{"c"}, opts, fetch); err != nil {
			t.Fatal(err)
		}
		if e, _ := c.Get(ctx, "c"); e != nil {
			t.Errorf("DisableWrite must not store c, got %+v", e)
		}

		asked = nil
		if _, err := c.GetSome(ctx, []string{"a"}, opts, fetch); err != nil || asked != nil {
			t.Errorf("GetSome with every key cached = %v, fetch asked for %v", err, asked)
		}
	})
}

func TestLocks(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		ctx := context.Background()
		c := newTestClient(t, startCluster(t, 2), binary, nil)

		if ok, err := c.Lock(ctx, "job", 0); err != nil || !ok {
			t.Fatalf("Lock = (%v, %v), expected true", ok, err)
		}
		if ok, _ := c.Lock(ctx, "job", 0); ok {
			t.Error("second Lock must fail while the lock is held")
		}
		if locked, _ := c.Locked(ctx, "job"); !locked {
			t.Error("Locked must report the held lock")
		}
		if ok, err := c.Unlock(ctx, "job"); err != nil || !ok {
			t.Errorf("Unlock = (%v, %v), expected true", ok, err)
		}

		// WithLock serializes concurrent callers
		var inside, maxInside atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := c.WithLock(ctx, "job", 5, func(context.Context) error {
					n := inside.Add(1)
					if n > maxInside.Load() {
						maxInside.Store(n)
					}
					time.Sleep(5 * time.Millisecond)
					inside.Add(-1)
					return nil
				})
				if err != nil {
					t.Errorf("WithLock failed: %v", err)
				}
			}()
		}
		wg.Wait()
		if maxInside.Load() != 1 {
			t.Errorf("%d holders inside the lock at once", maxInside.Load())
		}
		if locked, _ := c.Locked(ctx, "job"); locked {
			t.Error("WithLock must release the lock")
		}
	})
}

func TestWithLockTimeout(t *testing.T) {
	c := newTestClient(t, startCluster(t, 1), false, nil)
	if ok, _ := c.Lock(context.Background(), "busy", 30); !ok {
		t.Fatal("Lock failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	called := false
	err := c.WithLock(ctx, "busy", 5, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) || called {
		t.Errorf("WithLock on a held lock = %v (called %v), expected deadline exceeded", err, called)
	}
}

// --------------------------------------------------------------------------
// Concurrency and Metrics
// --------------------------------------------------------------------------

func TestConcurrentIncr(t *testing.T) {
	forDialects(t, func(t *testing.T, binary bool) {
		ctx := context.Background()
		c := newTestClient(t, startCluster(t, 3), binary, nil)
		if _, err := c.Set(ctx, "hits", []byte("0"), 0, 0); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 25; j++ {
					if _, _, err := c.Incr(ctx, "hits", 1); err != nil {
						t.Errorf("Incr failed: %v", err)
						return
					}
				}
			}()
		}
		wg.Wait()

		if n, _, _ := c.Count(ctx, "hits"); n != 400 {
			t.Errorf("counter = %d, expected 400", n)
		}
	})
}

func TestWriteMetrics(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, startCluster(t, 1), false, nil)
	_, _ = c.Set(ctx, "a", []byte("v"), 0, 0)
	_, _ = c.GetMulti(ctx, []string{"a", "b"})
	_, _ = c.Get(ctx, "")

	var buf bytes.Buffer
	c.WriteMetrics(&buf)
	out := buf.String()
	for _, expected := range []string{
		`mcache_client_commands_total{command="set"} 1`,
		`mcache_client_commands_total{command="get"} 1`,
		`mcache_client_hits_total 1`,
		`mcache_client_misses_total 1`,
		`mcache_client_command_duration_seconds_bucket{command="get"`,
	} {
		if !strings.Contains(out, expected) {
			t.Errorf("metrics output lacks %q", expected)
		}
	}
}
