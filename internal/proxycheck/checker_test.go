package proxycheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/kleinpost/api/schemas"
	"github.com/xkilldash9x/kleinpost/internal/config"
	"github.com/xkilldash9x/kleinpost/internal/network"
)

const (
	proxyEgressIP = "203.0.113.7"
	realIP        = "198.51.100.20"
)

// -- Test Setup and Helpers --

// fakeProxy is an HTTP proxy that accepts CONNECT and answers lookups for
// the fictional lookup.test host itself, as if it had reached the service.
type fakeProxy struct {
	srv          *httptest.Server
	connectCalls atomic.Int32
	lastAuth     atomic.Value
	egressIP     string
	connectCode  int
}

func newFakeProxy(t *testing.T, egressIP string) *fakeProxy {
	t.Helper()
	fp := &fakeProxy{egressIP: egressIP, connectCode: http.StatusOK}
	fp.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fp.lastAuth.Store(r.Header.Get("Proxy-Authorization"))
		if r.Method == http.MethodConnect {
			fp.connectCalls.Add(1)
			w.WriteHeader(fp.connectCode)
			return
		}
		switch r.URL.Path {
		case "/ipinfo":
			fmt.Fprintf(w, `{"ip":%q,"country":"DE","city":"Frankfurt","region":"Hesse","timezone":"Europe/Berlin","org":"AS3320 Example Telekom"}`, fp.egressIP)
		case "/ipify":
			fmt.Fprintf(w, `{"ip":%q}`, fp.egressIP)
		case "/geo/" + fp.egressIP:
			fmt.Fprintf(w, `{"status":"success","query":%q,"country":"Germany","city":"Hamburg","regionName":"Hamburg","timezone":"Europe/Berlin","isp":"Example GmbH"}`, fp.egressIP)
		case "/broken":
			http.Error(w, "nope", http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(fp.srv.Close)
	return fp
}

func (fp *fakeProxy) descriptor(t *testing.T) schemas.ProxyDescriptor {
	t.Helper()
	u, err := url.Parse(fp.srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return schemas.ProxyDescriptor{Type: schemas.ProxyHTTP, Host: u.Hostname(), Port: port, Username: "user", Password: "secret"}
}

// directService reports ip as the caller's own egress address.
func directService(t *testing.T, ip string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"ip":%q}`, ip)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func testConfig(lookups []string, directs ...string) config.ProxyCheckConfig {
	return config.ProxyCheckConfig{
		Timeout:        2 * time.Second,
		ConnectTarget:  "example.com:443",
		LookupServices: lookups,
		DirectServices: directs,
		GeoFallbackURL: "http://lookup.test/geo/%s",
		LeakPolicy:     config.LeakPolicySkip,
	}
}

type fakeGeo struct{ loc schemas.Location }

func (g fakeGeo) Lookup(string) (*schemas.Location, error) { return &g.loc, nil }

type fakePinger struct{ rtt time.Duration }

func (p fakePinger) Ping(context.Context, string) (time.Duration, error) { return p.rtt, nil }

// -- Test Cases: Probe --

func TestProbe_Success(t *testing.T) {
	fp := newFakeProxy(t, proxyEgressIP)
	cfg := testConfig([]string{"http://lookup.test/broken", "http://lookup.test/ipinfo"}, directService(t, realIP))
	checker := NewChecker(cfg, zap.NewNop(), WithPinger(fakePinger{rtt: 12 * time.Millisecond}))

	res := checker.Probe(context.Background(), fp.descriptor(t))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, proxyEgressIP, res.IP)
	assert.Equal(t, "http://lookup.test/ipinfo", res.ServiceUsed, "the first working service wins")
	require.NotNil(t, res.Location)
	assert.Equal(t, schemas.Location{Country: "DE", City: "Frankfurt", Region: "Hesse", Timezone: "Europe/Berlin"}, *res.Location)
	assert.Equal(t, "AS3320 Example Telekom", res.ISP)
	assert.Equal(t, []string{realIP}, res.DirectIPs)
	require.NotNil(t, res.Ping)
	assert.Equal(t, 12*time.Millisecond, *res.Ping)
	require.NotNil(t, res.Connection)
	assert.True(t, res.Connection.OK)
	assert.Contains(t, res.Connection.StatusLine, "200")
	assert.Equal(t, proxyEgressIP, res.RawData["ip"])
	assert.Equal(t, schemas.ProxyHTTP, res.ProxyType)
	assert.Equal(t, int32(1), fp.connectCalls.Load())
	assert.False(t, res.Timestamp.IsZero())
}

func TestProbe_AddressOnlyServiceUsesGeoFollowUp(t *testing.T) {
	fp := newFakeProxy(t, proxyEgressIP)
	cfg := testConfig([]string{"http://lookup.test/ipify"}, directService(t, realIP))
	res := NewChecker(cfg, zap.NewNop()).Probe(context.Background(), fp.descriptor(t))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Germany", res.Location.Country)
	assert.Equal(t, "Hamburg", res.Location.City)
	assert.Equal(t, "Example GmbH", res.ISP)
}

func TestProbe_IdentityLeak(t *testing.T) {
	// The CONNECT succeeds, but the egress IP is the machine's own.
	fp := newFakeProxy(t, realIP)
	cfg := testConfig([]string{"http://lookup.test/ipinfo"}, directService(t, realIP))
	res := NewChecker(cfg, zap.NewNop()).Probe(context.Background(), fp.descriptor(t))

	assert.False(t, res.Success)
	assert.Equal(t, schemas.KindIdentityLeak, res.ErrorKind)
	assert.Equal(t, StageLeak, res.Stage)
	assert.Equal(t, "proxy not used: IP matches real", res.Error)
	require.NotNil(t, res.Connection)
	assert.True(t, res.Connection.OK)
	assert.Nil(t, res.Location)
}

func TestProbe_UnreachableSocks(t *testing.T) {
	cfg := testConfig([]string{"http://lookup.test/ipinfo"})
	cfg.Timeout = 300 * time.Millisecond
	checker := NewChecker(cfg, zap.NewNop())

	res := checker.Probe(context.Background(), schemas.ProxyDescriptor{Type: schemas.ProxySOCKS5, Host: "10.0.0.1", Port: 1080})

	assert.False(t, res.Success)
	assert.Equal(t, schemas.KindNetworkUnreachable, res.ErrorKind)
	assert.Equal(t, StageConnect, res.Stage)
	assert.Nil(t, res.Location)
	assert.Empty(t, res.ISP)
	assert.Empty(t, res.IP)
}

func TestProbe_ConnectRejected(t *testing.T) {
	fp := newFakeProxy(t, proxyEgressIP)
	fp.connectCode = http.StatusProxyAuthRequired
	cfg := testConfig([]string{"http://lookup.test/ipinfo"}, directService(t, realIP))

	res := NewChecker(cfg, zap.NewNop()).Probe(context.Background(), fp.descriptor(t))

	assert.False(t, res.Success)
	assert.Equal(t, schemas.KindNetworkUnreachable, res.ErrorKind)
	assert.Equal(t, StageConnect, res.Stage)
	assert.Contains(t, res.Error, "407")
	assert.Equal(t, network.BasicProxyAuth("user", "secret"), fp.lastAuth.Load())
}

func TestProbe_AllLookupsFail(t *testing.T) {
	fp := newFakeProxy(t, proxyEgressIP)
	cfg := testConfig([]string{"http://lookup.test/broken", "http://lookup.test/missing"}, directService(t, realIP))

	res := NewChecker(cfg, zap.NewNop()).Probe(context.Background(), fp.descriptor(t))

	assert.False(t, res.Success)
	assert.Equal(t, schemas.KindNetworkUnreachable, res.ErrorKind)
	assert.Equal(t, StageLookup, res.Stage)
}

func TestProbe_LeakPolicyWhenDirectIPUnknown(t *testing.T) {
	brokenDirect := "http://127.0.0.1:1/unreachable"

	t.Run("skip", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		fp := newFakeProxy(t, proxyEgressIP)
		cfg := testConfig([]string{"http://lookup.test/ipinfo"}, brokenDirect)

		res := NewChecker(cfg, zap.New(core)).Probe(context.Background(), fp.descriptor(t))

		require.True(t, res.Success, res.Error)
		assert.True(t, res.LeakCheckSkipped)
		assert.Equal(t, 1, logs.FilterMessageSnippet("skipping leak check").Len())
	})

	t.Run("fail", func(t *testing.T) {
		fp := newFakeProxy(t, proxyEgressIP)
		cfg := testConfig([]string{"http://lookup.test/ipinfo"}, brokenDirect)
		cfg.LeakPolicy = config.LeakPolicyFail

		res := NewChecker(cfg, zap.NewNop()).Probe(context.Background(), fp.descriptor(t))

		assert.False(t, res.Success)
		assert.Equal(t, schemas.KindIdentityLeak, res.ErrorKind)
		assert.Equal(t, StageLeak, res.Stage)
		assert.Equal(t, "leak check unavailable: direct IP unknown", res.Error)
	})
}

func TestProbe_EnrichmentFillsGapsAndDefaults(t *testing.T) {
	fp := newFakeProxy(t, proxyEgressIP)
	cfg := testConfig([]string{"http://lookup.test/ipify"}, directService(t, realIP))
	cfg.GeoFallbackURL = ""

	t.Run("offline database", func(t *testing.T) {
		geo := fakeGeo{loc: schemas.Location{Country: "DE", City: "Berlin", Region: "BE", Timezone: "Europe/Berlin"}}
		res := NewChecker(cfg, zap.NewNop(), WithGeoLocator(geo)).Probe(context.Background(), fp.descriptor(t))
		require.True(t, res.Success, res.Error)
		assert.Equal(t, geo.loc, *res.Location)
	})

	t.Run("unknown defaults", func(t *testing.T) {
		res := NewChecker(cfg, zap.NewNop()).Probe(context.Background(), fp.descriptor(t))
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "Unknown", res.Location.Country)
		assert.Equal(t, "Unknown", res.Location.City)
		assert.Equal(t, "Unknown provider", res.ISP)
	})
}

func TestProbe_SocksIsAcceptedOnTCP(t *testing.T) {
	// Any listening socket passes the connection stage for SOCKS types.
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	checker := NewChecker(testConfig(nil), zap.NewNop())
	conn := checker.checkConnection(context.Background(), schemas.ProxyDescriptor{Type: schemas.ProxySOCKS5, Host: u.Hostname(), Port: port})
	assert.True(t, conn.OK)
	assert.Equal(t, "SOCKS handshake not verified", conn.Note)
}

// -- Test Cases: Bulk and Quick --

func TestProbeAll_PacesAndStopsOnCancel(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Timeout = 200 * time.Millisecond
	cfg.BulkDelay = 150 * time.Millisecond
	checker := NewChecker(cfg, zap.NewNop())

	invalid := schemas.Proxy{ID: "p", Descriptor: schemas.ProxyDescriptor{Type: schemas.ProxyHTTP}}
	start := time.Now()
	results := checker.ProbeAll(context.Background(), []schemas.Proxy{invalid, invalid, invalid})
	require.Len(t, results, 3)
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond, "two gaps separate three probes")
	for _, r := range results {
		assert.Equal(t, "p", r.ProxyID)
		assert.False(t, r.Result.Success)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, checker.ProbeAll(ctx, []schemas.Proxy{invalid, invalid}))
}

func TestProbeAll_DelayFollowsSlowProbes(t *testing.T) {
	// A listener that accepts and never answers makes each probe run until
	// its timeout.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(io.Discard, conn)
			}()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)

	cfg := testConfig(nil)
	cfg.Timeout = 200 * time.Millisecond
	cfg.BulkDelay = 200 * time.Millisecond
	checker := NewChecker(cfg, zap.NewNop())

	silent := schemas.Proxy{ID: "silent", Descriptor: schemas.ProxyDescriptor{Type: schemas.ProxyHTTP, Host: "127.0.0.1", Port: addr.Port}}
	start := time.Now()
	results := checker.ProbeAll(context.Background(), []schemas.Proxy{silent, silent, silent})
	elapsed := time.Since(start)

	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Result.Success)
	}
	// Three probes of at least one timeout each plus two full delays.
	assert.GreaterOrEqual(t, elapsed, 3*cfg.Timeout+2*cfg.BulkDelay-50*time.Millisecond)
}

func TestPause(t *testing.T) {
	assert.NoError(t, pause(context.Background(), 0))
	assert.NoError(t, pause(context.Background(), 10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pause(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, pause(ctx, 0), context.Canceled)
}

func TestQuickCheck(t *testing.T) {
	fp := newFakeProxy(t, proxyEgressIP)
	cfg := testConfig(nil)
	cfg.QuickCheckURL = "http://lookup.test/ipify"
	cfg.QuickTimeout = time.Second

	res := NewChecker(cfg, zap.NewNop()).QuickCheck(context.Background(), fp.descriptor(t))
	assert.True(t, res.Available, res.Error)
	assert.Equal(t, http.StatusOK, res.Status)

	cfg.QuickCheckURL = "http://lookup.test/broken"
	res = NewChecker(cfg, zap.NewNop()).QuickCheck(context.Background(), fp.descriptor(t))
	assert.False(t, res.Available)
	assert.Equal(t, http.StatusBadGateway, res.Status)
}

// -- Test Cases: Helpers --

func TestParsePingOutput(t *testing.T) {
	linux := "64 bytes from 1.1.1.1: icmp_seq=1 ttl=57 time=11.4 ms"
	d, err := parsePingOutput(linux)
	require.NoError(t, err)
	assert.Equal(t, 11400*time.Microsecond, d)

	windows := "Antwort von 1.1.1.1: Bytes=32 Zeit<1ms TTL=57\nReply from 1.1.1.1: bytes=32 time=9ms TTL=57"
	d, err = parsePingOutput(windows)
	require.NoError(t, err)
	assert.Equal(t, 9*time.Millisecond, d)

	_, err = parsePingOutput("Request timed out.")
	assert.Error(t, err)
}

func TestOpenGeoIP_MissingFile(t *testing.T) {
	_, err := OpenGeoIP("/nonexistent/GeoLite2-City.mmdb")
	assert.Error(t, err)
}

func TestFetchLookup_RejectsFailStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"fail","message":"private range","query":"10.0.0.1"}`)
	}))
	defer srv.Close()

	_, _, err := fetchLookup(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private range")
	assert.False(t, errors.Is(err, context.Canceled))
}
