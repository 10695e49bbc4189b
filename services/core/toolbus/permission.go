// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolbus

import (
	"encoding/json"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
)

// permissionRulesKey is the badger key the rule table persists its
// "always" promotions under, in the same store the memory write queue
// uses (memory.Queue.DB), so promoted rules survive a process restart
// without opening a second on-disk database.
var permissionRulesKey = []byte("toolbus:permission_rules")

// Decision is one outcome of the permission model (§3 Permission Rule,
// §4.2).
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
	Ask   Decision = "ask"
)

// Rule is the Permission Rule triple from §3.
type Rule struct {
	Capability Capability
	Scope      string // path prefix or command class
	Decision   Decision
}

// Approver is the callback the UI implements to answer an Ask
// decision; it blocks the calling agent until the UI returns
// yes/no/always (§4.2). The UI itself is an external collaborator —
// this is the narrow seam it is called through.
type Approver func(capability Capability, scope string) (yes bool, always bool)

// PermissionTable is the process-wide rule table, mutated only through
// explicit user approvals ("always allow") (§3).
type PermissionTable struct {
	mu       sync.RWMutex
	rules    []Rule
	approver Approver
	store    *badger.DB
}

// TableOption configures a PermissionTable at construction, mirroring
// ToolBus's own Option pattern.
type TableOption func(*PermissionTable)

// WithRuleStore wires a badger store "always" promotions persist to,
// so they survive a process restart instead of resetting to empty
// every run. Pass the same *badger.DB the memory write queue opened
// (memory.Queue.DB) rather than a second database.
func WithRuleStore(db *badger.DB) TableOption {
	return func(t *PermissionTable) { t.store = db }
}

// NewPermissionTable builds a table. approver may be nil in tests,
// in which case every Ask decision resolves to deny.
func NewPermissionTable(approver Approver, opts ...TableOption) *PermissionTable {
	t := &PermissionTable{approver: approver}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LoadPersisted restores rules previously written by Promote from the
// table's rule store, if one was configured. A missing key is not an
// error: it just means no rule has ever been promoted yet.
func (t *PermissionTable) LoadPersisted() error {
	if t.store == nil {
		return nil
	}
	var rules []Rule
	err := t.store.View(func(txn *badger.Txn) error {
		item, err := txn.Get(permissionRulesKey)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rules)
		})
	})
	if err != nil {
		return fmt.Errorf("toolbus: load persisted permission rules: %w", err)
	}
	if rules != nil {
		t.Load(rules)
	}
	return nil
}

// persist writes the current rule table to the rule store, if one was
// configured. Called after every Promote so an "always" decision
// outlives the process that recorded it.
func (t *PermissionTable) persist() error {
	if t.store == nil {
		return nil
	}
	t.mu.RLock()
	data, err := json.Marshal(t.rules)
	t.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("toolbus: marshal permission rules: %w", err)
	}
	return t.store.Update(func(txn *badger.Txn) error {
		return txn.Set(permissionRulesKey, data)
	})
}

// Decide resolves the decision for a capability/scope pair: read is
// always allowed (§4.2); write/execute/git-write default to ask unless
// an "always" rule was previously recorded; git_push --force is denied
// unless explicitly promoted, even after an "always" rule on ordinary
// git_push (§8).
func (t *PermissionTable) Decide(capability Capability, scope string, isForcePush bool) (Decision, error) {
	if capability == CapRead {
		return Allow, nil
	}

	t.mu.RLock()
	for _, r := range t.rules {
		if r.Capability == capability && r.Scope == scope {
			if isForcePush && r.Scope != "git_push --force" {
				break
			}
			t.mu.RUnlock()
			return r.Decision, nil
		}
	}
	t.mu.RUnlock()

	if isForcePush {
		return Deny, nil
	}

	if t.approver == nil {
		return Deny, nil
	}
	yes, always := t.approver(capability, scope)
	decision := Deny
	if yes {
		decision = Allow
	}
	if always {
		t.Promote(capability, scope, decision)
	}
	return decision, nil
}

// Promote records an "always" rule and, if a rule store is configured,
// persists it immediately so it survives a process restart. A
// persistence failure does not roll back the in-memory promotion: the
// rule still governs this process, it just might not survive past it.
func (t *PermissionTable) Promote(capability Capability, scope string, decision Decision) {
	t.mu.Lock()
	found := false
	for i, r := range t.rules {
		if r.Capability == capability && r.Scope == scope {
			t.rules[i].Decision = decision
			found = true
			break
		}
	}
	if !found {
		t.rules = append(t.rules, Rule{Capability: capability, Scope: scope, Decision: decision})
	}
	t.mu.Unlock()

	_ = t.persist()
}

// Rules returns a snapshot of the current rule table, e.g. for
// persistence (DESIGN.md "Permission rule persistence").
func (t *PermissionTable) Rules() []Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Load replaces the table contents, used to restore persisted
// promotions at session startup.
func (t *PermissionTable) Load(rules []Rule) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = append([]Rule(nil), rules...)
}

func (d Decision) String() string { return string(d) }

func requireDecision(d Decision, cap Capability) error {
	if d != Allow {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, cap)
	}
	return nil
}
