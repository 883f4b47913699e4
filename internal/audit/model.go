package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hostelhub/notifyrouter/internal/shared/types"
)

// Journal actions
const (
	ActionRouteCreated       = "route.created"
	ActionRouteUnroutable    = "route.unroutable"
	ActionTriageQueued       = "triage.queued"
	ActionEscalationCreated  = "escalation.scheduled"
	ActionEscalationDisabled = "escalation.disabled"
	ActionEscalationFired    = "escalation.fired"
	ActionEscalationResolved = "escalation.resolved"
)

// ActorSystem is recorded for decisions taken by the engine itself
const ActorSystem = "system"

// Entry is one immutable, hash-chained journal record
type Entry struct {
	ID        types.ID  `json:"id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash,omitempty"`

	Action         string         `json:"action"`
	NotificationID string         `json:"notification_id"`
	Actor          string         `json:"actor"`
	Details        map[string]any `json:"details,omitempty"`
}

// NewEntry creates an unchained entry; the journal links it on Record
func NewEntry(action, notificationID, actor string, details map[string]any, at time.Time) *Entry {
	if actor == "" {
		actor = ActorSystem
	}
	return &Entry{
		ID:             types.NewID(),
		Timestamp:      at.UTC().Truncate(time.Microsecond),
		Action:         action,
		NotificationID: notificationID,
		Actor:          actor,
		Details:        details,
	}
}

// ComputeHash returns the SHA-256 over the canonical form of the entry.
// Timestamps are hashed in UTC.
func (e *Entry) ComputeHash() string {
	data := map[string]any{
		"id":              e.ID,
		"sequence":        e.Sequence,
		"timestamp":       e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":       e.PrevHash,
		"action":          e.Action,
		"notification_id": e.NotificationID,
		"actor":           e.Actor,
	}
	if len(e.Details) > 0 {
		data["details"] = e.Details
	}

	// encoding/json writes map keys in sorted order, nested maps included
	jsonData, _ := json.Marshal(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash reports whether the stored hash matches the content
func (e *Entry) VerifyHash() bool {
	return e.Hash == e.ComputeHash()
}

// chain tracks the tail of a hash chain
type chain struct {
	mu       sync.Mutex
	lastHash string
	sequence int64
}

// link assigns sequence, prev hash and hash. Callers hold c.mu.
func (c *chain) link(e *Entry) {
	c.sequence++
	e.Sequence = c.sequence
	e.PrevHash = c.lastHash
	e.Hash = e.ComputeHash()
}

// commit advances the tail after a successful write. Callers hold c.mu.
func (c *chain) commit(e *Entry) {
	c.lastHash = e.Hash
}

// rollback undoes link after a failed write. Callers hold c.mu.
func (c *chain) rollback() {
	c.sequence--
}

// VerifyResult summarizes a chain verification
type VerifyResult struct {
	Valid          bool     `json:"valid"`
	Checked        int      `json:"checked"`
	ContentInvalid int      `json:"content_invalid"`
	LinkageInvalid int      `json:"linkage_invalid"`
	Violations     []string `json:"violations,omitempty"`
}

// Verify checks content hashes and linkage of entries in append order
func Verify(entries []*Entry) *VerifyResult {
	result := &VerifyResult{Valid: true, Checked: len(entries)}

	for i, entry := range entries {
		if computed := entry.ComputeHash(); computed != entry.Hash {
			result.Valid = false
			result.ContentInvalid++
			result.Violations = append(result.Violations,
				fmt.Sprintf("entry %d: content hash mismatch", entry.Sequence))
		}
		if i > 0 && entry.PrevHash != entries[i-1].Hash {
			result.Valid = false
			result.LinkageInvalid++
			result.Violations = append(result.Violations,
				fmt.Sprintf("entry %d: prev_hash does not match entry %d", entry.Sequence, entries[i-1].Sequence))
		}
	}
	return result
}
