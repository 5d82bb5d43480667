// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records what happened during a pipeline run: every
// negotiation round, forced acceptances, validation reports and pruning
// decisions.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Kind classifies an audit event.
type Kind string

const (
	KindRound            Kind = "round"
	KindForcedAcceptance Kind = "forced_acceptance"
	KindValidation       Kind = "validation"
	KindPrune            Kind = "prune"
	KindStageCompleted   Kind = "stage_completed"
	KindStageFailed      Kind = "stage_failed"
)

// Event is one audit record.
type Event struct {
	RunID   string    `json:"run_id"`
	Stage   string    `json:"stage"`
	Kind    Kind      `json:"kind"`
	Unit    string    `json:"unit,omitempty"`
	Role    string    `json:"role,omitempty"`
	Round   int       `json:"round,omitempty"`
	Message string    `json:"message,omitempty"`
	Detail  any       `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Store persists audit events.
type Store interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// Filter limits audit event queries.
type Filter struct {
	RunID string
	Stage string
	Kind  Kind
	Limit int
}

func (f Filter) match(ev Event) bool {
	if f.RunID != "" && ev.RunID != f.RunID {
		return false
	}
	if f.Stage != "" && ev.Stage != f.Stage {
		return false
	}
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	return true
}

// MemoryStore keeps audit events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore returns an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an audit event.
func (s *MemoryStore) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.At = stamp(event.At)
	s.events = append(s.events, event)
	return nil
}

// List returns filtered audit events in record order.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if !filter.match(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Discard is a Store that drops every event.
var Discard Store = discard{}

type discard struct{}

func (discard) Record(context.Context, Event) error           { return nil }
func (discard) List(context.Context, Filter) ([]Event, error) { return nil, nil }

func encodeDetail(detail any) ([]byte, error) {
	if detail == nil {
		return []byte("null"), nil
	}
	return json.Marshal(detail)
}

func decodeDetail(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// stamp defaults the event time to now and keeps it in UTC.
func stamp(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value.UTC()
}
