package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// StrategyKind discriminates the closed set of extraction strategy kinds.
type StrategyKind string

const (
	KindSelector  StrategyKind = "selector"  // CSS selector against the parsed document
	KindPattern   StrategyKind = "pattern"   // regexp with one capture group against document text
	KindAttribute StrategyKind = "attribute" // "selector@attr" probe, or "jsonld:<key>"
)

// Strategy is one named technique for locating a field's value in a document.
type Strategy struct {
	Field     string       `json:"field"`
	Kind      StrategyKind `json:"kind"`
	Payload   string       `json:"payload"` // opaque locator, interpreted per kind
	FromChunk bool         `json:"from_chunk,omitempty"`
	ChunkID   string       `json:"chunk_id,omitempty"`
}

// PayloadHash returns a short stable hash of the payload, used as part of the
// performance-counter key so arbitrarily long locators index cleanly.
func (s Strategy) PayloadHash() string {
	sum := sha256.Sum256([]byte(s.Payload))
	return hex.EncodeToString(sum[:8])
}

// AttemptOutcome is the result of applying one strategy candidate.
type AttemptOutcome string

const (
	OutcomeAccepted    AttemptOutcome = "accepted"
	OutcomeNoMatch     AttemptOutcome = "no_match"
	OutcomeImplausible AttemptOutcome = "implausible"
)

// Attempt is one (strategy, field, outcome) event from a single extraction
// pass. Attempts are aggregated into strategy counters and then discarded.
type Attempt struct {
	Strategy Strategy       `json:"strategy"`
	Outcome  AttemptOutcome `json:"outcome"`
	Value    string         `json:"value,omitempty"` // raw value, kept for audit logs
	At       time.Time      `json:"at"`
}

// Success reports whether the attempt produced an accepted value.
func (a Attempt) Success() bool { return a.Outcome == OutcomeAccepted }

// StrategyScore is the counter row for one (strategy, channel) tuple.
type StrategyScore struct {
	Field         string       `json:"field"`
	Kind          StrategyKind `json:"kind"`
	Payload       string       `json:"payload"`
	PayloadHash   string       `json:"payload_hash"`
	Channel       string       `json:"channel"`
	Attempts      int64        `json:"attempts"`
	Successes     int64        `json:"successes"`
	LastSuccessAt *time.Time   `json:"last_success_at,omitempty"`
	LastUsedAt    *time.Time   `json:"last_used_at,omitempty"`
}

// SmoothedRate returns the add-one smoothed success rate. An unobserved
// strategy scores 0.5, below anything with a solid record and above anything
// that keeps failing.
func (s StrategyScore) SmoothedRate() float64 {
	return float64(s.Successes+1) / float64(s.Attempts+2)
}

// Identity kinds tracked for fetch rotation.
const (
	IdentityUserAgent = "user_agent"
	IdentityProxy     = "proxy"
)

// IdentityScore is the counter row for one network identity.
type IdentityScore struct {
	Kind       string     `json:"kind"`
	Value      string     `json:"value"`
	Attempts   int64      `json:"attempts"`
	Successes  int64      `json:"successes"`
	Blocked    int64      `json:"blocked"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// SmoothedRate returns the add-one smoothed success rate for the identity.
func (s IdentityScore) SmoothedRate() float64 {
	return float64(s.Successes+1) / float64(s.Attempts+2)
}
