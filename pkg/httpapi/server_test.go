package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mcgate/gate/pkg/engine"
	"github.com/mcgate/gate/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newTestServer(t *testing.T) (*fasthttputil.InmemoryListener, *engine.Engine) {
	t.Helper()
	eng := engine.New(context.Background(), engine.Options{})
	t.Cleanup(eng.Shutdown)

	promReg := metrics.NewRegistry(eng.Registry())
	s := New(eng, promReg, "", nil)
	ln := fasthttputil.NewInmemoryListener()
	go s.srv.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return ln, eng
}

func doJSON(t *testing.T, ln *fasthttputil.InmemoryListener, path string, body any) map[string]any {
	t.Helper()
	conn, err := ln.Dial()
	require.NoError(t, err)
	defer conn.Close()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("http://gate" + path)
	req.Header.SetMethod("POST")
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req.SetBody(b)

	bw := bufio.NewWriter(conn)
	require.NoError(t, req.Write(bw))
	require.NoError(t, bw.Flush())
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)
	br := bufio.NewReader(conn)
	require.NoError(t, resp.Read(br))

	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body(), &out))
	return out
}

func TestStartAndStopListener(t *testing.T) {
	ln, _ := newTestServer(t)

	resp := doJSON(t, ln, "/start-listener", map[string]any{"host": "127.0.0.1", "port": 0})
	assert.Equal(t, float64(statusOK), resp["status"])
	require.Contains(t, resp, "listenerId")

	id := resp["listenerId"].(float64)
	stopResp := doJSON(t, ln, "/stop-listener", map[string]any{"listenerId": id})
	assert.Equal(t, float64(statusOK), stopResp["status"])
}

func TestKickAllReturnsZeroWhenIdle(t *testing.T) {
	ln, _ := newTestServer(t)
	conn, err := ln.Dial()
	require.NoError(t, err)
	defer conn.Close()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("http://gate/kick-all")
	req.Header.SetMethod("POST")
	bw := bufio.NewWriter(conn)
	require.NoError(t, req.Write(bw))
	require.NoError(t, bw.Flush())

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)
	require.NoError(t, resp.Read(bufio.NewReader(conn)))

	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body(), &out))
	assert.Equal(t, float64(0), out["count"])
}

func TestPollEventsReturnsEmptyArraysWhenIdle(t *testing.T) {
	ln, _ := newTestServer(t)
	conn, err := ln.Dial()
	require.NoError(t, err)
	defer conn.Close()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("http://gate/poll-events")
	req.Header.SetMethod("GET")
	bw := bufio.NewWriter(conn)
	require.NoError(t, req.Write(bw))
	require.NoError(t, bw.Flush())

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)
	require.NoError(t, resp.Read(bufio.NewReader(conn)))

	var out struct {
		RouteRequests       []any `json:"routeRequests"`
		MotdRequests        []any `json:"motdRequests"`
		DisconnectionEvents []any `json:"disconnectionEvents"`
	}
	require.NoError(t, json.Unmarshal(resp.Body(), &out))
	assert.Empty(t, out.RouteRequests)
	assert.Empty(t, out.MotdRequests)
	assert.Empty(t, out.DisconnectionEvents)
}
