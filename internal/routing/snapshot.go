package routing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hostelhub/notifyrouter/internal/shared/config"
	"github.com/hostelhub/notifyrouter/internal/shared/errors"
	"github.com/hostelhub/notifyrouter/internal/shared/metrics"
	"github.com/hostelhub/notifyrouter/internal/shared/types"
)

// BuiltinDefault is used when neither storage nor the defaults file supplies
// a global default policy.
var BuiltinDefault = DefaultPolicy{
	Recipients:        RecipientSpec{Roles: []string{"warden"}},
	Channels:          []Channel{ChannelInApp, ChannelEmail},
	TemplateCode:      "generic_notification",
	EscalationEnabled: true,
}

// Snapshot is an immutable, versioned view of routing configuration. A routing
// decision reads exactly one snapshot from start to finish.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	// Rejected lists configuration entries skipped because they failed validation
	Rejected []error

	rules    []Rule
	paths    []EscalationPath
	defaults map[string]DefaultPolicy
}

// NewSnapshot validates configuration and builds a snapshot. Inactive and
// invalid rules and paths are left out. A global default policy is required.
func NewSnapshot(version int64, loadedAt time.Time, rules []Rule, paths []EscalationPath, defaults []DefaultPolicy) (*Snapshot, error) {
	s := &Snapshot{
		Version:  version,
		LoadedAt: loadedAt,
		defaults: make(map[string]DefaultPolicy, len(defaults)),
	}

	for _, r := range rules {
		if !r.Active {
			continue
		}
		if err := r.Validate(); err != nil {
			s.Rejected = append(s.Rejected, err)
			continue
		}
		s.rules = append(s.rules, r)
	}
	sort.SliceStable(s.rules, func(i, j int) bool {
		return s.rules[i].Position < s.rules[j].Position
	})

	for _, p := range paths {
		if !p.Active {
			continue
		}
		if err := p.Validate(); err != nil {
			s.Rejected = append(s.Rejected, err)
			continue
		}
		s.paths = append(s.paths, p)
	}

	for _, d := range defaults {
		if err := d.Validate(); err != nil {
			s.Rejected = append(s.Rejected, err)
			continue
		}
		s.defaults[d.HostelID] = d
	}
	if _, ok := s.defaults[""]; !ok {
		return nil, errors.ErrNoDefaultPolicy
	}
	return s, nil
}

// RulesFor returns global rules plus the hostel's own rules, in declaration order
func (s *Snapshot) RulesFor(hostelID string) []Rule {
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.IsGlobal() || (hostelID != "" && r.HostelID == hostelID) {
			out = append(out, r)
		}
	}
	return out
}

// PathFor finds the escalation path for an event type, preferring a
// hostel-scoped path over a global one.
func (s *Snapshot) PathFor(hostelID, eventType string) (*EscalationPath, bool) {
	var global *EscalationPath
	for i := range s.paths {
		p := &s.paths[i]
		if p.EventType != eventType {
			continue
		}
		if hostelID != "" && p.HostelID == hostelID {
			return p, true
		}
		if p.HostelID == "" && global == nil {
			global = p
		}
	}
	return global, global != nil
}

// PathByID looks up a path by id
func (s *Snapshot) PathByID(id types.ID) (*EscalationPath, bool) {
	for i := range s.paths {
		if s.paths[i].ID == id {
			return &s.paths[i], true
		}
	}
	return nil, false
}

// DefaultFor returns the hostel default policy, or the global one
func (s *Snapshot) DefaultFor(hostelID string) DefaultPolicy {
	if d, ok := s.defaults[hostelID]; ok && hostelID != "" {
		return d
	}
	return s.defaults[""]
}

// SnapshotProvider serves the current snapshot and reloads it when it expires.
// A failed reload keeps serving the previous snapshot.
type SnapshotProvider struct {
	loader   ConfigLoader
	fallback []DefaultPolicy
	ttl      time.Duration
	clock    types.Clock
	log      *zap.SugaredLogger

	mu      sync.RWMutex
	current *Snapshot
	version int64
}

// NewSnapshotProvider creates a provider. fallback defaults (from the defaults
// file) apply to hostels that storage has no default for.
func NewSnapshotProvider(loader ConfigLoader, fallback []DefaultPolicy, ttl time.Duration, clock types.Clock, log *zap.SugaredLogger) *SnapshotProvider {
	return &SnapshotProvider{
		loader:   loader,
		fallback: fallback,
		ttl:      ttl,
		clock:    clock.OrSystem(),
		log:      log,
	}
}

// Current returns a fresh snapshot, reloading when the TTL has passed.
// Only the very first load can fail.
func (p *SnapshotProvider) Current(ctx context.Context) (*Snapshot, error) {
	p.mu.RLock()
	snap := p.current
	p.mu.RUnlock()

	if snap != nil && p.clock().Sub(snap.LoadedAt) < p.ttl {
		return snap, nil
	}

	if err := p.Refresh(ctx); err != nil {
		if snap != nil {
			p.log.Warnw("snapshot refresh failed, serving stale configuration",
				"version", snap.Version,
				"error", err,
			)
			return snap, nil
		}
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, nil
}

// Refresh loads configuration and swaps in a new snapshot
func (p *SnapshotProvider) Refresh(ctx context.Context) error {
	rules, err := p.loader.LoadRules(ctx)
	if err != nil {
		metrics.RecordSnapshotRefresh(false)
		return fmt.Errorf("failed to load rules: %w", err)
	}
	paths, err := p.loader.LoadPaths(ctx)
	if err != nil {
		metrics.RecordSnapshotRefresh(false)
		return fmt.Errorf("failed to load escalation paths: %w", err)
	}
	defaults, err := p.loader.LoadDefaults(ctx)
	if err != nil {
		metrics.RecordSnapshotRefresh(false)
		return fmt.Errorf("failed to load default policies: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	snap, err := NewSnapshot(p.version+1, p.clock(), rules, paths, mergeDefaults(defaults, p.fallback))
	if err != nil {
		metrics.RecordSnapshotRefresh(false)
		return err
	}
	for _, rej := range snap.Rejected {
		p.log.Warnw("skipping invalid routing configuration", "error", rej)
	}

	p.version = snap.Version
	p.current = snap
	metrics.RecordSnapshotRefresh(true)
	p.log.Debugw("routing snapshot loaded",
		"version", snap.Version,
		"rules", len(snap.rules),
		"paths", len(snap.paths),
	)
	return nil
}

// Run refreshes the snapshot every TTL until ctx is cancelled
func (p *SnapshotProvider) Run(ctx context.Context) {
	ticker := time.NewTicker(p.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.log.Warnw("periodic snapshot refresh failed", "error", err)
			}
		}
	}
}

// mergeDefaults layers stored defaults over fallbacks and guarantees a global
// default exists.
func mergeDefaults(stored, fallback []DefaultPolicy) []DefaultPolicy {
	byHostel := map[string]DefaultPolicy{"": BuiltinDefault}
	order := []string{""}
	for _, set := range [][]DefaultPolicy{fallback, stored} {
		for _, d := range set {
			if _, ok := byHostel[d.HostelID]; !ok {
				order = append(order, d.HostelID)
			}
			byHostel[d.HostelID] = d
		}
	}
	out := make([]DefaultPolicy, 0, len(order))
	for _, h := range order {
		out = append(out, byHostel[h])
	}
	return out
}

// DefaultPoliciesFromConfig converts defaults-file entries to policies
func DefaultPoliciesFromConfig(entries []config.DefaultPolicyConfig) ([]DefaultPolicy, error) {
	out := make([]DefaultPolicy, 0, len(entries))
	for _, e := range entries {
		channels, err := ParseChannels(e.Channels)
		if err != nil {
			return nil, fmt.Errorf("default policy %q: %w", e.HostelID, err)
		}
		out = append(out, DefaultPolicy{
			HostelID:          e.HostelID,
			Recipients:        RecipientSpec{Roles: e.Roles, Users: e.Users, Groups: e.Groups},
			Channels:          channels,
			TemplateCode:      e.TemplateCode,
			EscalationEnabled: e.EscalationEnabled,
		})
	}
	return out, nil
}
