// Package api provides the coach HTTP server: the transcript API read by chat
// clients on resume, and a streaming completion endpoint for local use.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// Provider names the upstream on published exchange events.
	Provider string
}
