package registry

import (
	"testing"
	"time"

	"github.com/mcgate/gate/pkg/cache"
	"github.com/mcgate/gate/pkg/policy"
	"github.com/mcgate/gate/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return New(cache.New(time.Minute))
}

func TestConnectionLifecycleUpdatesActiveCount(t *testing.T) {
	r := newTestRegistry()
	c := &Connection{ID: r.NewConnID(), Limiter: ratelimit.NewConnectionLimiter(nil)}
	r.RegisterConnection(c)
	assert.Equal(t, 1, r.ActiveCount())
	assert.Equal(t, uint64(1), r.Counters.TotalAccepted.Load())

	ok := r.UnregisterConnection(c.ID)
	assert.True(t, ok)
	assert.Equal(t, 0, r.ActiveCount())

	assert.False(t, r.UnregisterConnection(c.ID))
}

func TestRouteDecisionRoundTrip(t *testing.T) {
	r := newTestRegistry()
	ch := r.EmitRouteRequest(policy.RouteRequest{ConnID: 7, PeerIP: "1.2.3.4"})

	pending := r.PollRouteRequests()
	require.Len(t, pending, 1)
	assert.Equal(t, uint64(7), pending[0].ConnID)
	assert.Empty(t, r.PollRouteRequests())

	decision := &policy.RouteDecision{Forward: &policy.RouteForward{RemoteHost: "backend", RemotePort: 25565}}
	assert.True(t, r.SubmitRouteDecision(7, decision))
	assert.Equal(t, decision, <-ch)
}

func TestSecondSubmissionIsIgnored(t *testing.T) {
	r := newTestRegistry()
	r.EmitRouteRequest(policy.RouteRequest{ConnID: 1})
	first := &policy.RouteDecision{Disconnect: "no"}
	assert.True(t, r.SubmitRouteDecision(1, first))
	assert.False(t, r.SubmitRouteDecision(1, &policy.RouteDecision{Disconnect: "too late"}))
}

func TestDisconnectionAbandonsPendingDecisions(t *testing.T) {
	r := newTestRegistry()
	r.EmitMotdRequest(policy.MotdRequest{ConnID: 3})
	r.EmitDisconnection(3)

	assert.False(t, r.SubmitMotdDecision(3, &policy.MotdDecision{}))
	events := r.PollDisconnectionEvents()
	require.Len(t, events, 1)
	assert.Equal(t, uint64(3), events[0].ConnID)
}

func TestGlobalRateLimitPropagatesToNonExplicitConnections(t *testing.T) {
	r := newTestRegistry()
	c := &Connection{ID: r.NewConnID(), Limiter: ratelimit.NewConnectionLimiter(nil)}
	r.RegisterConnection(c)

	r.SetGlobalRateLimit(&ratelimit.Limits{SendAvg: 100, SendBurst: 100, RecvAvg: 100, RecvBurst: 100})
	assert.False(t, c.Limiter.Send.Explicit())

	c.Limiter.SetRateLimit(ratelimit.Limits{SendAvg: 1, SendBurst: 1, RecvAvg: 1, RecvBurst: 1})
	r.SetGlobalRateLimit(&ratelimit.Limits{SendAvg: 9999, SendBurst: 9999, RecvAvg: 9999, RecvBurst: 9999})
	assert.True(t, c.Limiter.Send.Explicit())
}

func TestMetricsSnapshotReflectsByteCounters(t *testing.T) {
	r := newTestRegistry()
	c := &Connection{ID: r.NewConnID(), Limiter: ratelimit.NewConnectionLimiter(nil)}
	r.RegisterConnection(c)
	r.AddBytesSent(c, 100)
	r.AddBytesRecv(c, 40)

	snap := r.Metrics()
	assert.Equal(t, uint64(100), snap.TotalBytesSent)
	assert.Equal(t, uint64(40), snap.TotalBytesRecv)
	assert.Equal(t, ConnMetrics{BytesSent: 100, BytesRecv: 40}, snap.Connections[c.ID])
}
