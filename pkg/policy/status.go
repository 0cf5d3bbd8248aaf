package policy

import (
	"encoding/json"
	"strconv"
)

// statusSample mirrors one players.sample entry in the outbound status
// JSON.
type statusSample struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type statusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

type statusPlayers struct {
	Max    int            `json:"max"`
	Online int            `json:"online"`
	Sample []statusSample `json:"sample,omitempty"`
}

type statusDescription struct {
	Text string `json:"text"`
}

type statusResponse struct {
	Version     statusVersion     `json:"version"`
	Players     statusPlayers     `json:"players"`
	Description statusDescription `json:"description"`
	Favicon     string            `json:"favicon,omitempty"`
}

// BuildStatusJSON renders the final Status-Response JSON body, substituting
// "auto" on protocol with clientProtocol and "auto" on online with
// activeConnections, at response-build time rather than at cache-store
// time (spec.md §9: "otherwise cached MOTD would freeze the online count").
// favicon is expected to already be validated/normalized (see pkg/favicon).
func BuildStatusJSON(s *MotdStatus, clientProtocol int32, activeConnections int, favicon string) (string, error) {
	protocol := clientProtocol
	if s.VersionProtocol != "auto" {
		if n, err := strconv.ParseInt(s.VersionProtocol, 10, 32); err == nil {
			protocol = int32(n)
		}
	}
	online := activeConnections
	if s.PlayersOnline != "auto" {
		if n, err := strconv.ParseInt(s.PlayersOnline, 10, 32); err == nil {
			online = int(n)
		}
	}
	samples := make([]statusSample, 0, len(s.Sample))
	for _, sm := range s.Sample {
		samples = append(samples, statusSample{Name: sm.Name, ID: sm.ID})
	}
	resp := statusResponse{
		Version:     statusVersion{Name: s.VersionName, Protocol: protocol},
		Players:     statusPlayers{Max: s.PlayersMax, Online: online, Sample: samples},
		Description: statusDescription{Text: s.DescriptionText},
		Favicon:     favicon,
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
