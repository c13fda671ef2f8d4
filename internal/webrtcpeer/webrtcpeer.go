// Package webrtcpeer checks the configured ICE servers against the WebRTC
// stack the browsers' peers negotiate with. The relay never terminates media
// or data channels itself.
package webrtcpeer

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/config"
)

// placeholderTURNUser and placeholderTURNCredential stand in for credentials
// that are minted per request when TURN REST is enabled.
const (
	placeholderTURNUser       = "turn-rest-placeholder"
	placeholderTURNCredential = "turn-rest-placeholder"
)

// NewAPI returns an API with default settings. Probe PeerConnections never
// set a local description, so no candidates are gathered.
func NewAPI() *webrtc.API {
	return webrtc.NewAPI(webrtc.WithSettingEngine(webrtc.SettingEngine{}))
}

// CheckICEServers builds and immediately closes a PeerConnection with the
// given servers so that pion's URL and credential validation runs at startup
// instead of in every browser.
func CheckICEServers(api *webrtc.API, servers []webrtc.ICEServer, turnREST bool) error {
	if api == nil {
		api = NewAPI()
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: peerConnectionICEServers(servers, turnREST),
	})
	if err != nil {
		return fmt.Errorf("webrtc rejected ICE servers: %w", err)
	}
	if err := pc.Close(); err != nil {
		return fmt.Errorf("close probe peer connection: %w", err)
	}
	return nil
}

// peerConnectionICEServers fills in placeholder credentials on TURN entries
// that rely on TURN REST, since pion requires credentials on every TURN URL.
func peerConnectionICEServers(servers []webrtc.ICEServer, turnREST bool) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if !turnREST || !hasTURNURL(server) {
			continue
		}
		if server.Username == "" {
			out[i].Username = placeholderTURNUser
		}
		if server.Credential == nil || server.Credential == "" {
			out[i].Credential = placeholderTURNCredential
		}
	}
	return out
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, url := range server.URLs {
		if config.IsTURNURL(url) {
			return true
		}
	}
	return false
}
