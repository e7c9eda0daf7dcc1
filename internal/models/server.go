package models

import "time"

// ServerEndpoint caches the fastest reachable address of a media server and its status
type ServerEndpoint struct {
	ServerID string `boltholdKey:"ServerID"` // Plex machine identifier
	Name     string

	// Cached address, empty after invalidation
	Address        string
	LastVerifiedAt time.Time
	LatencyMs      int64

	// Every address advertised for the server, tried during discovery
	Candidates []string

	Status     ServerStatus
	LastSeenAt *time.Time
	LastError  string
	UpdatedAt  time.Time
}

// Fresh reports whether the cached address may be used without discovery
func (e *ServerEndpoint) Fresh(now time.Time, window time.Duration) bool {
	return e.Address != "" && now.Sub(e.LastVerifiedAt) < window
}

// ConnectionStats summarizes the endpoint cache for operators
type ConnectionStats struct {
	TotalServers int               `json:"total_servers"`
	Online       int               `json:"online"`
	Offline      int               `json:"offline"`
	Cached       int               `json:"cached"`
	Servers      []ServerStatusRow `json:"servers"`
}

// ServerStatusRow is one server in ConnectionStats
type ServerStatusRow struct {
	ServerID   string       `json:"server_id"`
	Name       string       `json:"name"`
	Address    string       `json:"address,omitempty"`
	Status     ServerStatus `json:"status"`
	LatencyMs  int64        `json:"latency_ms"`
	LastSeenAt *time.Time   `json:"last_seen_at,omitempty"`
	Fresh      bool         `json:"fresh"`
}
