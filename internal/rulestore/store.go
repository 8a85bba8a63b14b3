// Package rulestore implements the control-plane's authoritative rule
// database: an ordered-by-priority list with a secondary id index, CRUD
// with copy-on-write snapshots, projection to the shared ACL table, and
// binary backup/restore.
//
// Grounded on the teacher's internal/ctlplane.ConfigManager (mutex-guarded
// clone-on-write staging plus an ApplyHook list) adapted from a two-phase
// stage/apply model to a directly-mutating rule CRUD model, since the Rule
// Store has no staged/running split in the spec.
package rulestore

import (
	"encoding/binary"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardfw/ward/internal/errors"
	"github.com/wardfw/ward/internal/logging"
	"github.com/wardfw/ward/internal/maps"
	"github.com/wardfw/ward/internal/wire"
)

// ChangeNotice describes a mutation the Store just committed. It is
// intentionally minimal and store-local so this package does not need to
// import internal/events; callers (the Control Service) translate it into
// a proper Event.
type ChangeNotice struct {
	Kind   string // "add", "update", "delete", "restore"
	RuleID string
}

// ChangeHook is invoked synchronously, after a mutation has been applied
// and projected, while the Store's writer lock is still held. Hooks must
// not call back into the Store.
type ChangeHook func(ChangeNotice)

// snapshot is the copy-on-write unit readers observe. ordered is sorted
// by (priority asc, then insertion order) and is never mutated in place.
type snapshot struct {
	ordered []*Rule
	byID    map[string]*Rule
}

// Store is the Rule Store of §4.4. All mutations serialise through mu;
// readers load the current snapshot without blocking writers for the
// duration of their read.
type Store struct {
	mu        sync.Mutex
	current   *snapshot
	substrate *maps.Substrate
	maxRules  int
	logger    *logging.Logger
	hooks     []ChangeHook
}

// New creates an empty Store projecting onto substrate. If substrate is
// nil, projection is a no-op, which is useful for unit tests of CRUD
// semantics alone.
func New(substrate *maps.Substrate, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Store{
		current:   &snapshot{byID: make(map[string]*Rule)},
		substrate: substrate,
		maxRules:  MaxRules,
		logger:    logger,
	}
}

// OnChange registers a hook fired after each committed mutation.
func (s *Store) OnChange(h ChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

func (s *Store) fire(notice ChangeNotice) {
	for _, h := range s.hooks {
		h(notice)
	}
}

// Add validates and inserts rule, assigning an identifier if empty and
// stamping creation/update timestamps. It projects the rule into the ACL
// table and fires a "add" change notice.
func (s *Store) Add(r *Rule) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule := r.Clone()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if _, exists := s.current.byID[rule.ID]; exists {
		return nil, errors.Errorf(errors.KindAlreadyExists, "rule %s already exists", rule.ID)
	}
	if len(s.current.ordered) >= s.maxRules {
		return nil, errors.Errorf(errors.KindCapacityExhausted, "rule store at capacity (%d rules)", s.maxRules)
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := validate(rule); err != nil {
		return nil, err
	}

	next := s.current.withUpserted(rule)
	if err := s.reproject(s.current, next, rule.ID); err != nil {
		return nil, err
	}
	s.current = next
	s.logger.Info("rule added", "rule_id", rule.ID, "action", rule.Action, "priority", rule.Priority)
	s.warnIfNearCapacity()
	s.fire(ChangeNotice{Kind: "add", RuleID: rule.ID})
	return rule.Clone(), nil
}

// warnIfNearCapacity logs a high-watermark warning once the store holds
// 90% or more of maxRules, grounded on the teacher's
// ebpf/flow.Manager.tuneMemoryPool adaptive-logging idiom — only the
// logging is reused here, not any auto-resizing, since the spec's
// max_rules ceiling is hard.
func (s *Store) warnIfNearCapacity() {
	if s.maxRules <= 0 {
		return
	}
	if n := len(s.current.ordered); n*10 >= s.maxRules*9 {
		s.logger.Warn("rule store near capacity", "rules", n, "max_rules", s.maxRules)
	}
}

// Update replaces the rule identified by id. Any identifier on newRule is
// replaced by id; CreatedAt is preserved from the existing record.
func (s *Store) Update(id string, newRule *Rule) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.current.byID[id]
	if !ok {
		return nil, errors.Errorf(errors.KindNotFound, "rule %s not found", id)
	}

	rule := newRule.Clone()
	rule.ID = id
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	if err := validate(rule); err != nil {
		return nil, err
	}

	next := s.current.withUpserted(rule)
	if err := s.reproject(s.current, next, id); err != nil {
		return nil, err
	}
	s.current = next
	s.logger.Info("rule updated", "rule_id", id)
	s.fire(ChangeNotice{Kind: "update", RuleID: id})
	return rule.Clone(), nil
}

// Delete removes the rule identified by id and reprojects its ACL rows.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.current.byID[id]; !ok {
		return errors.Errorf(errors.KindNotFound, "rule %s not found", id)
	}

	next := s.current.withoutID(id)
	if err := s.reproject(s.current, next, id); err != nil {
		return err
	}
	s.current = next
	s.logger.Info("rule deleted", "rule_id", id)
	s.fire(ChangeNotice{Kind: "delete", RuleID: id})
	return nil
}

// Get fetches a single rule by id.
func (s *Store) Get(id string) (*Rule, error) {
	s.mu.Lock()
	snap := s.current
	s.mu.Unlock()

	r, ok := snap.byID[id]
	if !ok {
		return nil, errors.Errorf(errors.KindNotFound, "rule %s not found", id)
	}
	return r.Clone(), nil
}

// List returns a priority-ordered page of rules. offset and limit
// implement simple pagination; limit <= 0 means no limit.
func (s *Store) List(offset, limit int) []*Rule {
	s.mu.Lock()
	snap := s.current
	s.mu.Unlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(snap.ordered) {
		return nil
	}
	end := len(snap.ordered)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*Rule, 0, end-offset)
	for _, r := range snap.ordered[offset:end] {
		out = append(out, r.Clone())
	}
	return out
}

// EnabledIndex returns the ordered, enabled rule set used by the
// Classifier Engine's fallback scan. The returned slice is a snapshot and
// safe to range over without locking.
func (s *Store) EnabledIndex() []*Rule {
	s.mu.Lock()
	snap := s.current
	s.mu.Unlock()

	out := make([]*Rule, 0, len(snap.ordered))
	for _, r := range snap.ordered {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// SetMaxRules overrides the store's capacity, bounding it to the
// MaxRules package ceiling (§5's resource limit). Intended for the
// daemon to apply the config.Config.MaxRules option at startup, before
// any rule is added.
func (s *Store) SetMaxRules(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > MaxRules {
		n = MaxRules
	}
	s.maxRules = n
}

// Count returns the current number of stored rules.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.current.ordered)
}

func (snap *snapshot) withUpserted(rule *Rule) *snapshot {
	next := &snapshot{byID: make(map[string]*Rule, len(snap.byID)+1)}
	replaced := false
	ordered := make([]*Rule, 0, len(snap.ordered)+1)
	for _, r := range snap.ordered {
		if r.ID == rule.ID {
			ordered = append(ordered, rule)
			replaced = true
			continue
		}
		ordered = append(ordered, r)
	}
	if !replaced {
		ordered = append(ordered, rule)
	}
	sortRules(ordered)
	for _, r := range ordered {
		next.byID[r.ID] = r
	}
	next.ordered = ordered
	return next
}

func (snap *snapshot) withoutID(id string) *snapshot {
	next := &snapshot{byID: make(map[string]*Rule, len(snap.byID))}
	ordered := make([]*Rule, 0, len(snap.ordered))
	for _, r := range snap.ordered {
		if r.ID == id {
			continue
		}
		ordered = append(ordered, r)
		next.byID[r.ID] = r
	}
	next.ordered = ordered
	return next
}

func sortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
}

// protocolCode maps a Rule's string protocol to the wire-level code, or
// ok=false for the wildcard "any", which is never projected.
func protocolCode(p string) (uint8, bool) {
	switch p {
	case ProtocolTCP:
		return wire.ProtoTCP, true
	case ProtocolUDP:
		return wire.ProtoUDP, true
	case ProtocolICMP:
		return wire.ProtoICMP, true
	default:
		return 0, false
	}
}

// projectedTuples returns the ACL-table 5-tuples rule contributes, per
// §4.4: a host-specific prefix on both sides with concrete ports and a
// concrete protocol contributes one row per applicable direction ("both"
// contributes both the forward and reverse tuple).
func projectedTuples(rule *Rule) []wire.FlowTuple {
	if !rule.Enabled {
		return nil
	}
	if !isHostSpecific(rule.SrcNet) || !isHostSpecific(rule.DstNet) {
		return nil
	}
	if rule.SrcPort == 0 || rule.DstPort == 0 {
		return nil
	}
	proto, ok := protocolCode(rule.Protocol)
	if !ok {
		return nil
	}

	srcIP := ipToUint32(rule.SrcNet.IP)
	dstIP := ipToUint32(rule.DstNet.IP)
	forward := wire.FlowTuple{SrcIP: srcIP, DstIP: dstIP, SrcPort: rule.SrcPort, DstPort: rule.DstPort, Protocol: proto}

	switch rule.Direction {
	case DirectionBoth:
		reverse := wire.FlowTuple{SrcIP: dstIP, DstIP: srcIP, SrcPort: rule.DstPort, DstPort: rule.SrcPort, Protocol: proto}
		return []wire.FlowTuple{forward, reverse}
	default:
		return []wire.FlowTuple{forward}
	}
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}

func tupleKey(t wire.FlowTuple) string {
	return string(t.MarshalBinary())
}

// reproject recomputes and writes the ACL rows affected by a mutation to
// changedID. It considers the union of the tuples the rule projected to
// before (in prev) and after (in next) the mutation, so a rule whose
// projection shrinks or moves still has its stale rows cleared.
func (s *Store) reproject(prev, next *snapshot, changedID string) error {
	return s.reprojectRules(prev, next, []string{changedID})
}

// reprojectRules is the general form used by single mutations (one
// changed id) and by restore (every id in prev or next, since a restore
// replaces the whole rule set).
func (s *Store) reprojectRules(prev, next *snapshot, ruleIDs []string) error {
	if s.substrate == nil {
		return nil
	}

	affected := make(map[string]wire.FlowTuple)
	for _, id := range ruleIDs {
		if old, ok := prev.byID[id]; ok {
			for _, t := range projectedTuples(old) {
				affected[tupleKey(t)] = t
			}
		}
		if cur, ok := next.byID[id]; ok {
			for _, t := range projectedTuples(cur) {
				affected[tupleKey(t)] = t
			}
		}
	}

	for _, tuple := range affected {
		winner := winningRule(next.ordered, tuple)
		if winner == nil {
			if err := s.substrate.DeleteACL(tuple); err != nil {
				return err
			}
			continue
		}
		if err := s.substrate.UpsertACL(tuple, wire.ACLValue{Action: actionCode(winner.Action), Flags: flagsFor(winner), Priority: winner.Priority}); err != nil {
			return err
		}
	}
	return nil
}

// winningRule finds, among rules projecting to tuple, the one that should
// own the ACL row per the tie-break rule in §4.2: smallest priority wins,
// ties broken by most-recently-updated.
func winningRule(ordered []*Rule, tuple wire.FlowTuple) *Rule {
	var winner *Rule
	for _, r := range ordered {
		matches := false
		for _, t := range projectedTuples(r) {
			if t == tuple {
				matches = true
				break
			}
		}
		if !matches {
			continue
		}
		if winner == nil {
			winner = r
			continue
		}
		if r.Priority < winner.Priority {
			winner = r
		} else if r.Priority == winner.Priority && r.UpdatedAt.After(winner.UpdatedAt) {
			winner = r
		}
	}
	return winner
}

func flagsFor(r *Rule) uint8 {
	if r.Stateful {
		return wire.ACLFlagStateful
	}
	return 0
}

func actionCode(a string) uint8 {
	switch a {
	case ActionDrop:
		return wire.ActionDrop
	case ActionRedirect:
		return wire.ActionRedirect
	case ActionLog:
		return wire.ActionLog
	default:
		return wire.ActionAllow
	}
}
