// Package api holds the JSON bodies exchanged over the broker and edge HTTP
// APIs.
package api

import "time"

type CreateSessionRequest struct {
	OwnerPassword   *string `json:"owner_password,omitempty"`
	GuestPassword   *string `json:"guest_password,omitempty"`
	IsGuestReadonly bool    `json:"is_guest_readonly"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// SessionDetails is the broker's view of a session's policy. It carries the
// credential hashes and is only served to trusted callers such as the edge.
type SessionDetails struct {
	SessionID         string    `json:"session_id"`
	OwnerPasswordHash *string   `json:"owner_password_hash"`
	GuestPasswordHash *string   `json:"guest_password_hash"`
	IsGuestReadonly   bool      `json:"is_guest_readonly"`
	CreatedAt         time.Time `json:"created_at"`
}

// PublicSession is what the edge exposes to browsers.
type PublicSession struct {
	SessionID       string    `json:"session_id"`
	NeedsAuth       bool      `json:"needs_auth"`
	IsGuestReadonly bool      `json:"is_guest_readonly"`
	CreatedAt       time.Time `json:"created_at"`
}

type AuthRequest struct {
	Password string `json:"password"`
}

type AuthResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserType      string `json:"user_type"`
	IsReadonly    bool   `json:"is_readonly"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Health is the body of the broker's /api/health endpoint.
type Health struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	Goroutines      int    `json:"goroutines"`
	RSSBytes        uint64 `json:"rss_bytes,omitempty"`
	SessionsTotal   int    `json:"sessions_total"`
	SessionsLive    int    `json:"sessions_live"`
	SessionsEnded   int    `json:"sessions_ended"`
	OwnersAttached  int    `json:"owners_attached"`
	ViewersAttached int    `json:"viewers_attached"`
}
