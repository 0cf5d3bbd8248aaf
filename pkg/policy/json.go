package policy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// wireCacheDirective mirrors CacheDirective's JSON shape exactly.
type wireCacheDirective struct {
	Granularity  string `json:"granularity"`
	TTL          int64  `json:"ttl"`
	Reject       bool   `json:"reject,omitempty"`
	RejectReason string `json:"rejectReason,omitempty"`
}

func (w *wireCacheDirective) toDomain() *CacheDirective {
	if w == nil {
		return nil
	}
	return &CacheDirective{
		Granularity:  w.Granularity,
		TTLMillis:    w.TTL,
		Reject:       w.Reject,
		RejectReason: w.RejectReason,
	}
}

// wireRouteDecision is the raw §6 RouteDecision JSON shape.
type wireRouteDecision struct {
	Disconnect    *string              `json:"disconnect"`
	RemoteHost    string               `json:"remoteHost"`
	RemotePort    uint16               `json:"remotePort"`
	Proxy         string               `json:"proxy,omitempty"`
	ProxyProtocol int                  `json:"proxyProtocol,omitempty"`
	RewriteHost   string               `json:"rewriteHost,omitempty"`
	Cache         *wireCacheDirective  `json:"cache,omitempty"`
}

// ParseRouteDecision decodes a RouteDecision from its wire JSON form.
func ParseRouteDecision(data []byte) (*RouteDecision, error) {
	var w wireRouteDecision
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("policy: decode RouteDecision: %w", err)
	}
	d := &RouteDecision{Cache: w.Cache.toDomain()}
	if w.Disconnect != nil {
		d.Disconnect = *w.Disconnect
		return d, nil
	}
	d.Forward = &RouteForward{
		RemoteHost:    w.RemoteHost,
		RemotePort:    w.RemotePort,
		Proxy:         w.Proxy,
		ProxyProtocol: w.ProxyProtocol,
		RewriteHost:   w.RewriteHost,
	}
	return d, nil
}

// wireVersion/wirePlayers/wireDescription mirror the nested MotdDecision
// shapes; "auto" is a valid literal for protocol/online alongside an int.
type wireVersion struct {
	Name     string          `json:"name"`
	Protocol json.RawMessage `json:"protocol"`
}

type wirePlayers struct {
	Max    int                `json:"max"`
	Online json.RawMessage    `json:"online"`
	Sample []json.RawMessage  `json:"sample"`
}

type wireDescription struct {
	Text string `json:"text"`
}

type wireMotdDecision struct {
	Disconnect  *string          `json:"disconnect"`
	Version     *wireVersion     `json:"version"`
	Players     *wirePlayers     `json:"players"`
	Description *wireDescription `json:"description"`
	Favicon     string           `json:"favicon,omitempty"`
	Cache       *wireCacheDirective `json:"cache,omitempty"`
}

// autoOrInt decodes a json.RawMessage that is either a bare integer or the
// literal string "auto", returning "auto" or the decimal string form.
func autoOrInt(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "auto", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s != "auto" {
			return "", fmt.Errorf("policy: invalid string value %q, only \"auto\" allowed", s)
		}
		return "auto", nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("policy: value must be an int or \"auto\": %w", err)
	}
	return fmt.Sprintf("%d", n), nil
}

// parseSample decodes one players.sample element: either a bare string
// (promoted to {name, id: zero-uuid}) or an object {name, id}.
func parseSample(raw json.RawMessage) (PlayerSample, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return PlayerSample{Name: s, ID: uuid.Nil.String()}, nil
	}
	var obj struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return PlayerSample{}, fmt.Errorf("policy: invalid sample entry: %w", err)
	}
	if obj.ID == "" {
		obj.ID = uuid.Nil.String()
	}
	return PlayerSample{Name: obj.Name, ID: obj.ID}, nil
}

// ParseMotdDecision decodes a MotdDecision from its wire JSON form.
func ParseMotdDecision(data []byte) (*MotdDecision, error) {
	var w wireMotdDecision
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("policy: decode MotdDecision: %w", err)
	}
	d := &MotdDecision{Cache: w.Cache.toDomain()}
	if w.Disconnect != nil {
		d.Disconnect = *w.Disconnect
		return d, nil
	}
	status := &MotdStatus{PlayersMax: 0}
	if w.Version != nil {
		status.VersionName = w.Version.Name
		proto, err := autoOrInt(w.Version.Protocol)
		if err != nil {
			return nil, err
		}
		status.VersionProtocol = proto
	} else {
		status.VersionProtocol = "auto"
	}
	if w.Players != nil {
		status.PlayersMax = w.Players.Max
		online, err := autoOrInt(w.Players.Online)
		if err != nil {
			return nil, err
		}
		status.PlayersOnline = online
		for _, raw := range w.Players.Sample {
			sample, err := parseSample(raw)
			if err != nil {
				return nil, err
			}
			status.Sample = append(status.Sample, sample)
		}
	} else {
		status.PlayersOnline = "auto"
	}
	if w.Description != nil {
		status.DescriptionText = w.Description.Text
	}
	status.Favicon = w.Favicon
	d.Status = status
	return d, nil
}

// MarshalRouteRequest/MarshalMotdRequest/MarshalDisconnection are thin
// wrappers kept symmetric with the Parse* functions above; these types have
// no tagged-union ambiguity so encoding/json handles them directly, but
// routing marshaling through here keeps all boundary JSON logic in one
// package.
func MarshalRouteRequest(r *RouteRequest) ([]byte, error)     { return json.Marshal(r) }
func MarshalMotdRequest(r *MotdRequest) ([]byte, error)       { return json.Marshal(r) }
func MarshalDisconnection(e *DisconnectionEvent) ([]byte, error) { return json.Marshal(e) }
