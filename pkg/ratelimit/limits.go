package ratelimit

// Limits is the {send_avg, send_burst, recv_avg, recv_burst} quadruple
// carried by set-rate-limit and the optional global default (spec.md §4.4,
// §4.7).
type Limits struct {
	SendAvg, SendBurst int
	RecvAvg, RecvBurst int
}

// ConnectionLimiter bundles the two independent token buckets a Connection
// owns: send (client -> backend) and recv (backend -> client).
type ConnectionLimiter struct {
	Send *Bucket
	Recv *Bucket
}

// NewConnectionLimiter builds a limiter, applying an optional global default
// at creation time (spec.md §4.4: "A global default rate limit MAY be
// installed, in which case it is applied to each new Connection at
// creation.").
func NewConnectionLimiter(global *Limits) *ConnectionLimiter {
	var l Limits
	if global != nil {
		l = *global
	}
	return &ConnectionLimiter{
		Send: New(l.SendAvg, l.SendBurst),
		Recv: New(l.RecvAvg, l.RecvBurst),
	}
}

// SetRateLimit applies an explicit, per-connection override. Once called,
// this connection's buckets are authoritative and no longer track later
// global-default changes (see DESIGN.md Open Question resolution #1).
func (c *ConnectionLimiter) SetRateLimit(l Limits) {
	c.Send.Reconfigure(l.SendAvg, l.SendBurst)
	c.Recv.Reconfigure(l.RecvAvg, l.RecvBurst)
}

// Unlimited reports whether neither direction currently carries a rate
// limit, the condition under which the forwarder's kernel-splice fast path
// may skip metering entirely (spec.md §4.6).
func (c *ConnectionLimiter) Unlimited() bool {
	return c.Send.Unlimited() && c.Recv.Unlimited()
}

// ApplyGlobalDefault updates this connection's buckets from a new global
// default, but only for buckets that were never explicitly configured.
func (c *ConnectionLimiter) ApplyGlobalDefault(l Limits) {
	if !c.Send.Explicit() {
		c.Send.configure(l.SendAvg, l.SendBurst)
	}
	if !c.Recv.Explicit() {
		c.Recv.configure(l.RecvAvg, l.RecvBurst)
	}
}
