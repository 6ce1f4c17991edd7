// Package api provides the HTTP API of the wallet backend: device pairing
// and verification ceremonies, credential access for a paired device, and
// the WebSocket endpoint the device drives wallet sessions over.
package api

// APIVersion represents the current API version supported by this server.
// It is a capability level, not a URL prefix; frontends read the
// api_version field of /status to decide what they can use.
const (
	// APIVersion1 is the original API version.
	APIVersion1 = 1

	// CurrentAPIVersion is the highest API version supported by this server.
	CurrentAPIVersion = APIVersion1
)

// APICapabilities describes the features available at each API version.
var APICapabilities = map[int][]string{
	APIVersion1: {
		"pairing",
		"presence",
		"unlock",
		"oid4vci",
	},
}

// StatusResponse is the response from the /status endpoint.
type StatusResponse struct {
	Status       string   `json:"status"`
	Service      string   `json:"service"`
	APIVersion   int      `json:"api_version"`
	Capabilities []string `json:"capabilities,omitempty"`
}
