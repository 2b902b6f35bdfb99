package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/driftwatch/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RuleAPI is the backend surface the store mutates against.
type RuleAPI interface {
	ListAlertRules(ctx context.Context) ([]Rule, error)
	CreateAlertRule(ctx context.Context, rule Rule) (Rule, error)
	UpdateAlertRule(ctx context.Context, id string, rule Rule) (Rule, error)
	DeleteAlertRule(ctx context.Context, id string) error
}

// CacheState describes the rule cache entry lifecycle. Staleness is
// not a stored state - it is derived lazily from fetchedAt at read
// time.
type CacheState string

const (
	CacheEmpty   CacheState = "empty"
	CacheLoading CacheState = "loading"
	CacheReady   CacheState = "ready"
	CacheError   CacheState = "error"
)

// MutationError reports a failed optimistic mutation. The local change
// has already been rolled back via a forced refresh by the time the
// caller sees this.
type MutationError struct {
	Op     string // create | update | delete
	RuleID string
	Err    error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("alert rule %s failed for %s: %v", e.Op, e.RuleID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// CommandKind tags entries in the mutation command log.
type CommandKind string

const (
	CommandCreate CommandKind = "create"
	CommandUpdate CommandKind = "update"
	CommandDelete CommandKind = "delete"
)

// Command records one optimistic mutation: its predicted local effect
// and whether it was confirmed by the backend or compensated by a
// forced refresh. Rollback is a first-class operation, not an ad-hoc
// refresh scattered per call site.
type Command struct {
	ID            string      `json:"id"`
	Kind          CommandKind `json:"kind"`
	RuleID        string      `json:"rule_id"`
	TempID        string      `json:"temp_id,omitempty"`
	AppliedAt     time.Time   `json:"applied_at"`
	ConfirmedAt   *time.Time  `json:"confirmed_at,omitempty"`
	CompensatedAt *time.Time  `json:"compensated_at,omitempty"`
}

// tempIDPrefix marks locally synthesized ids awaiting backend
// confirmation.
const tempIDPrefix = "tmp-"

// inflightFetch is the single shared backend request concurrent
// GetRules callers join.
type inflightFetch struct {
	done  chan struct{}
	rules []Rule
	err   error
}

// Store is the in-memory read-through cache of alert rules. It is the
// sole owner of the rule collection: everything else observes
// immutable snapshots and dispatches intents through it.
type Store struct {
	api   RuleAPI
	ttl   time.Duration
	log   zerolog.Logger
	bus   *events.Manager
	nowFn func() time.Time

	mu         sync.Mutex
	rules      []Rule
	state      CacheState
	fetchedAt  time.Time
	inflight   *inflightFetch
	lastErr    error
	commandLog []Command
	ruleLocks  map[string]*sync.Mutex
}

// NewStore creates a new alert rule store. bus may be nil (no event
// emission).
func NewStore(api RuleAPI, ttl time.Duration, bus *events.Manager, log zerolog.Logger) *Store {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &Store{
		api:       api,
		ttl:       ttl,
		bus:       bus,
		log:       log.With().Str("service", "alert_rule_store").Logger(),
		nowFn:     time.Now,
		state:     CacheEmpty,
		ruleLocks: make(map[string]*sync.Mutex),
	}
}

// State returns the current cache state.
func (s *Store) State() CacheState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil {
		return CacheLoading
	}
	return s.state
}

// LastError returns the most recent fetch error, nil once a fetch
// succeeds.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// IsStale reports whether cached data has outlived the TTL. Evaluated
// lazily - there is no background timer.
func (s *Store) IsStale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isStaleLocked()
}

func (s *Store) isStaleLocked() bool {
	return s.state == CacheReady && s.nowFn().Sub(s.fetchedAt) > s.ttl
}

// Snapshot returns a copy of the cached rules without touching the
// network, regardless of staleness.
func (s *Store) Snapshot() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRules(s.rules)
}

// Commands returns a copy of the mutation command log, newest last.
func (s *Store) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.commandLog))
	copy(out, s.commandLog)
	return out
}

// GetRules returns the rule list, fetching from the backend when the
// cache is empty, stale, or force is set. Concurrent callers join a
// single in-flight request rather than issuing duplicates. On fetch
// failure previously cached rules are returned alongside the error so
// stale-but-present data stays visible.
func (s *Store) GetRules(ctx context.Context, force bool) ([]Rule, error) {
	s.mu.Lock()

	if !force && s.state == CacheReady && !s.isStaleLocked() {
		rules := copyRules(s.rules)
		s.mu.Unlock()
		return rules, nil
	}

	// Join the in-flight request if one exists (request coalescing).
	if s.inflight != nil {
		f := s.inflight
		s.mu.Unlock()
		return s.await(ctx, f)
	}

	f := &inflightFetch{done: make(chan struct{})}
	s.inflight = f
	s.mu.Unlock()

	go s.fetch(f)

	return s.await(ctx, f)
}

// fetch runs the single backend request and resolves all joined
// callers in one step.
func (s *Store) fetch(f *inflightFetch) {
	// Detached from any one caller's context: several callers share
	// this request, so one caller cancelling must not fail the rest.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rules, err := s.api.ListAlertRules(ctx)

	s.mu.Lock()
	s.inflight = nil
	if err != nil {
		// Keep previously cached data visible.
		s.state = CacheError
		s.lastErr = err
		f.rules = copyRules(s.rules)
		f.err = err
		s.log.Warn().Err(err).Msg("Rule fetch failed, keeping cached data")
	} else {
		s.rules = copyRules(rules)
		s.state = CacheReady
		s.fetchedAt = s.nowFn()
		s.lastErr = nil
		f.rules = copyRules(rules)
	}
	s.mu.Unlock()

	close(f.done)

	if err == nil && s.bus != nil {
		s.bus.Emit(events.AlertRulesLoaded, "alerts", map[string]interface{}{
			"count": len(f.rules),
		})
	}
}

// await blocks until the shared fetch resolves or the caller's context
// ends.
func (s *Store) await(ctx context.Context, f *inflightFetch) ([]Rule, error) {
	select {
	case <-f.done:
		return f.rules, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CreateOrUpdate applies an optimistic local mutation, then issues the
// backend call. On success the optimistic entry is replaced by the
// authoritative server rule (forced refresh when a temp id cannot be
// matched). On failure the optimistic mutation is compensated by a
// forced refresh and a MutationError is returned.
func (s *Store) CreateOrUpdate(ctx context.Context, rule Rule) (Rule, error) {
	isCreate := rule.ID == ""

	var tempID string
	if isCreate {
		tempID = tempIDPrefix + uuid.New().String()
		rule.ID = tempID
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = s.nowFn().UTC()
		}
	}

	// Same-id mutations serialize; different ids proceed independently.
	lockID := rule.ID
	unlock := s.lockRule(lockID)
	defer unlock()

	cmd := s.applyOptimistic(rule, isCreate, tempID)

	var (
		confirmed Rule
		err       error
	)
	if isCreate {
		sent := rule
		sent.ID = "" // backend assigns the real id
		confirmed, err = s.api.CreateAlertRule(ctx, sent)
	} else {
		confirmed, err = s.api.UpdateAlertRule(ctx, rule.ID, rule)
	}

	if err != nil {
		s.compensate(cmd, err)
		op := "update"
		if isCreate {
			op = "create"
		}
		return Rule{}, &MutationError{Op: op, RuleID: rule.ID, Err: err}
	}

	s.confirm(cmd, rule.ID, confirmed)

	if s.bus != nil {
		eventType := events.AlertRuleUpdated
		if isCreate {
			eventType = events.AlertRuleCreated
		}
		s.bus.Emit(eventType, "alerts", map[string]interface{}{
			"rule_id": confirmed.ID,
			"name":    confirmed.Name,
		})
	}

	return confirmed, nil
}

// Delete removes a rule optimistically; a backend failure restores
// server truth via forced refresh.
func (s *Store) Delete(ctx context.Context, id string) error {
	unlock := s.lockRule(id)
	defer unlock()

	cmd := s.applyOptimisticDelete(id)

	if err := s.api.DeleteAlertRule(ctx, id); err != nil {
		s.compensate(cmd, err)
		return &MutationError{Op: "delete", RuleID: id, Err: err}
	}

	now := s.nowFn().UTC()
	s.mu.Lock()
	s.markCommand(cmd, func(c *Command) { c.ConfirmedAt = &now })
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Emit(events.AlertRuleDeleted, "alerts", map[string]interface{}{
			"rule_id": id,
		})
	}

	return nil
}

// lockRule acquires the per-rule mutation lock.
func (s *Store) lockRule(id string) func() {
	s.mu.Lock()
	l, ok := s.ruleLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.ruleLocks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// applyOptimistic inserts or replaces the rule locally and records the
// command.
func (s *Store) applyOptimistic(rule Rule, isCreate bool, tempID string) string {
	kind := CommandUpdate
	if isCreate {
		kind = CommandCreate
	}

	cmd := Command{
		ID:        uuid.New().String(),
		Kind:      kind,
		RuleID:    rule.ID,
		TempID:    tempID,
		AppliedAt: s.nowFn().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i := range s.rules {
		if s.rules[i].ID == rule.ID {
			s.rules[i] = rule
			replaced = true
			break
		}
	}
	if !replaced {
		s.rules = append(s.rules, rule)
	}

	s.commandLog = appendCommand(s.commandLog, cmd)
	return cmd.ID
}

// applyOptimisticDelete removes the rule locally and records the
// command.
func (s *Store) applyOptimisticDelete(id string) string {
	cmd := Command{
		ID:        uuid.New().String(),
		Kind:      CommandDelete,
		RuleID:    id,
		AppliedAt: s.nowFn().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rules[:0]
	for _, r := range s.rules {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	s.rules = kept

	s.commandLog = appendCommand(s.commandLog, cmd)
	return cmd.ID
}

// confirm reconciles the optimistic entry with the authoritative
// server response by id, falling back to a forced refresh when the
// optimistic id cannot be found anymore.
func (s *Store) confirm(cmdID, optimisticID string, confirmed Rule) {
	now := s.nowFn().UTC()

	s.mu.Lock()
	matched := false
	for i := range s.rules {
		if s.rules[i].ID == optimisticID {
			s.rules[i] = confirmed
			matched = true
			break
		}
	}
	s.markCommand(cmdID, func(c *Command) { c.ConfirmedAt = &now })
	s.mu.Unlock()

	if !matched {
		s.log.Warn().
			Str("optimistic_id", optimisticID).
			Str("rule_id", confirmed.ID).
			Msg("Optimistic entry vanished before confirmation, forcing refresh")
		s.forceRefresh()
	}
}

// compensate rolls the optimistic mutation back by restoring server
// truth with a forced refresh.
func (s *Store) compensate(cmdID string, cause error) {
	now := s.nowFn().UTC()

	s.mu.Lock()
	s.markCommand(cmdID, func(c *Command) { c.CompensatedAt = &now })
	s.mu.Unlock()

	s.log.Warn().Err(cause).Msg("Optimistic mutation failed, rolling back via refresh")
	s.forceRefresh()
}

// forceRefresh re-fetches the rule list, discarding local optimistic
// state. Errors are already reflected in the cache state.
func (s *Store) forceRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, _ = s.GetRules(ctx, true)
}

// markCommand mutates a command log entry in place. Caller holds s.mu.
func (s *Store) markCommand(cmdID string, fn func(*Command)) {
	for i := range s.commandLog {
		if s.commandLog[i].ID == cmdID {
			fn(&s.commandLog[i])
			return
		}
	}
}

// commandLogLimit bounds the retained mutation history.
const commandLogLimit = 200

func appendCommand(log []Command, cmd Command) []Command {
	log = append(log, cmd)
	if len(log) > commandLogLimit {
		log = log[len(log)-commandLogLimit:]
	}
	return log
}

func copyRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}
