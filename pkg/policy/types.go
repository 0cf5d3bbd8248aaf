// Package policy defines the strongly-typed messages that cross the JSON
// policy boundary described in spec.md §6, plus the JSON (de)serialization
// for the tagged-union decision shapes. Per spec.md §9 ("JSON at the
// boundary ... internal representations SHOULD be strongly typed"), JSON
// decoding happens exactly once here, on ingress from the policy layer;
// everything downstream of this package works with the Go structs.
package policy

// RouteRequest is emitted once per login-path connection (spec.md §3).
type RouteRequest struct {
	ConnID   uint64 `json:"connId"`
	PeerIP   string `json:"peerIp"`
	Port     uint16 `json:"port"`
	Protocol int32  `json:"protocol"`
	Host     string `json:"host"`
	Username string `json:"username"`
}

// MotdRequest is emitted once per status-path connection.
type MotdRequest struct {
	ConnID   uint64 `json:"connId"`
	PeerIP   string `json:"peerIp"`
	Port     uint16 `json:"port"`
	Protocol int32  `json:"protocol"`
	Host     string `json:"host"`
}

// DisconnectionEvent is emitted exactly once per Connection after its
// pipeline ends.
type DisconnectionEvent struct {
	ConnID uint64 `json:"connId"`
}

// CacheDirective is the optional cache hint a decision may carry.
type CacheDirective struct {
	Granularity  string `json:"granularity"` // "Ip" | "IpHost"
	TTLMillis    int64  `json:"ttl"`
	Reject       bool   `json:"reject,omitempty"`
	RejectReason string `json:"rejectReason,omitempty"`
}

// RouteDecision is the strongly-typed form of §6's RouteDecision JSON
// shape: exactly one of Disconnect set, or Forward populated.
type RouteDecision struct {
	Disconnect string          // non-empty => reject
	Forward    *RouteForward   // nil when Disconnect is set
	Cache      *CacheDirective // optional regardless of branch
}

// RouteForward is the "how to reach the backend" half of a RouteDecision.
type RouteForward struct {
	RemoteHost    string
	RemotePort    uint16
	Proxy         string // e.g. "socks5://host:port[?user:pass]"
	ProxyProtocol int    // 0 (unset), 1, or 2
	RewriteHost   string
}

// IsReject reports whether this decision rejects the connection.
func (d *RouteDecision) IsReject() bool { return d.Disconnect != "" }

// MotdDecision is the strongly-typed form of §6's MotdDecision JSON shape.
type MotdDecision struct {
	Disconnect string
	Status     *MotdStatus
	Cache      *CacheDirective
}

func (d *MotdDecision) IsReject() bool { return d.Disconnect != "" }

// MotdStatus is the status JSON payload a MOTD decision carries.
type MotdStatus struct {
	VersionName     string
	VersionProtocol string // decimal int as string, or "auto"
	PlayersMax      int
	PlayersOnline   string // decimal int as string, or "auto"
	Sample          []PlayerSample
	DescriptionText string
	Favicon         string // data URL, optional
}

// PlayerSample is one entry of players.sample; bare strings in the source
// JSON are promoted to {name, id: zero-uuid} during decode.
type PlayerSample struct {
	Name string
	ID   string // UUID string
}
