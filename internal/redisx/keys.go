package redisx

import "time"

const (
	// Saved console credential per profile: console:session:{profile} -> session JSON
	KeySession = "console:session:%s"

	// Dedup of audit events already stored: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	// Upper bound for a saved session when the token carries no exp claim.
	TTLSession = 12 * time.Hour
	TTLDedup   = 48 * time.Hour
)
