// Package provenance implements the Provenance Tracker (spec.md
// §4.9): per-assembly sessions that record registered sources,
// transformations, and decisions, aggregated into a trust score.
// Grounded on internal/session's lifecycle shape, retargeted from
// named developer sessions to ephemeral per-assembly sessions kept
// in memory for the lifetime of a single request.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ctxforge/retrievalcore/internal/entry"
)

// Tracker holds in-flight and completed provenance sessions.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*session
	seq      atomic.Uint64
}

type session struct {
	packID          string
	startedAt       time.Time
	endedAt         time.Time
	ended           bool
	sources         []entry.ProvenanceSource
	decisions       []entry.ProvenanceDecision
	transformations []string
	audit           []string
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{sessions: make(map[string]*session)}
}

// StartSession begins a new provenance session for packID and returns
// its session ID.
func (t *Tracker) StartSession(packID string) string {
	n := t.seq.Add(1)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", packID, n, time.Now().UnixNano())))
	sessionID := hex.EncodeToString(sum[:8])

	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sessionID] = &session{
		packID:    packID,
		startedAt: time.Now(),
		audit:     []string{"session started for pack " + packID},
	}
	return sessionID
}

// RegisterSource records one gatherer/collaborator that contributed
// content to the pack under construction.
func (t *Tracker) RegisterSource(sessionID, kind, label, description string, params map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return
	}
	s.sources = append(s.sources, entry.ProvenanceSource{
		Kind:         kind,
		Label:        label,
		Description:  description,
		Params:       params,
		TrustWeight:  defaultTrustWeight(kind),
		RegisteredAt: time.Now(),
	})
	s.audit = append(s.audit, fmt.Sprintf("source registered: %s/%s", kind, label))
}

// RecordTransformation appends a free-text transformation note
// (compression, truncation, rerank, template render, ...) to the
// session's audit trail.
func (t *Tracker) RecordTransformation(sessionID, description string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return
	}
	s.transformations = append(s.transformations, description)
	s.audit = append(s.audit, "transformation: "+description)
}

// RecordDecision records one decision made during assembly, with its
// considered alternatives and a confidence in [0,1].
func (t *Tracker) RecordDecision(sessionID, title, summary, reasoning string, alternatives []string, confidence float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return
	}
	s.decisions = append(s.decisions, entry.ProvenanceDecision{
		Title:                  title,
		Summary:                summary,
		Reasoning:              reasoning,
		ConsideredAlternatives: alternatives,
		Confidence:             clamp01(confidence),
		DecidedAt:              time.Now(),
	})
	s.audit = append(s.audit, "decision: "+title)
}

// EndSession marks a session complete. Idempotent.
func (t *Tracker) EndSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok || s.ended {
		return
	}
	s.ended = true
	s.endedAt = time.Now()
	s.audit = append(s.audit, "session ended")
}

// Generate produces the final ProvenanceInfo for a session, including
// the aggregated trust score. Safe to call after EndSession; calling
// it before is allowed for partial/degraded packs.
func (t *Tracker) Generate(sessionID string) entry.ProvenanceInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return entry.ProvenanceInfo{}
	}
	return entry.ProvenanceInfo{
		Sources:         append([]entry.ProvenanceSource(nil), s.sources...),
		Transformations: append([]string(nil), s.transformations...),
		Decisions:       append([]entry.ProvenanceDecision(nil), s.decisions...),
		AuditTrail:      append([]string(nil), s.audit...),
		TrustScore:      trustScore(s),
	}
}

// Forget releases a session's memory after its pack has been cached.
func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// trustScore aggregates per-source trust weights and decision
// confidences into a single [0,1] figure.
func trustScore(s *session) float64 {
	var sum float64
	var n int
	for _, src := range s.sources {
		sum += src.TrustWeight
		n++
	}
	for _, d := range s.decisions {
		sum += d.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return clamp01(sum / float64(n))
}

// defaultTrustWeight gives known source kinds a baseline trust weight;
// unknown kinds default to a conservative middle value.
func defaultTrustWeight(kind string) float64 {
	switch kind {
	case "fts", "index":
		return 0.9
	case "memory":
		return 0.85
	case "knowledge":
		return 0.8
	case "realtime":
		return 0.6
	case "vector", "semantic":
		return 0.7
	default:
		return 0.5
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
