// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func sampleEvents() []Event {
	return []Event{
		{RunID: "run-1", Stage: "definition", Kind: KindRound, Role: "data_scientist", Round: 1,
			Detail: map[string]any{"decision": true}},
		{RunID: "run-1", Stage: "definition", Kind: KindForcedAcceptance, Round: 3, Message: "round budget exhausted"},
		{RunID: "run-1", Stage: "annotation", Kind: KindValidation, Unit: "case-1",
			Detail: map[string]any{"tags_properly_nested": false}},
		{RunID: "run-2", Stage: "definition", Kind: KindRound, Round: 1},
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	for _, ev := range sampleEvents() {
		if err := store.Record(ctx, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{name: "all", filter: Filter{}, want: 4},
		{name: "by run", filter: Filter{RunID: "run-1"}, want: 3},
		{name: "by stage", filter: Filter{RunID: "run-1", Stage: "definition"}, want: 2},
		{name: "by kind", filter: Filter{Kind: KindRound}, want: 2},
		{name: "limit", filter: Filter{RunID: "run-1", Limit: 1}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := store.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(events) != tt.want {
				t.Fatalf("expected %d events, got %d", tt.want, len(events))
			}
		})
	}

	events, _ := store.List(ctx, Filter{RunID: "run-1"})
	if events[0].Role != "data_scientist" || events[0].Round != 1 {
		t.Errorf("unexpected first event %+v", events[0])
	}
	if events[1].Kind != KindForcedAcceptance {
		t.Errorf("events out of order: %+v", events)
	}
	if events[0].At.IsZero() {
		t.Errorf("event time should default to now")
	}
	detail, ok := events[0].Detail.(map[string]any)
	if !ok || detail["decision"] != true {
		t.Errorf("unexpected detail %#v", events[0].Detail)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite", "file:concord_audit_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	exerciseStore(t, store)
}

func TestOpenSQLiteFile(t *testing.T) {
	path := t.TempDir() + "/audit.db"
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := store.Record(context.Background(), Event{RunID: "r", Stage: "schema", Kind: KindPrune, At: at}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	events, err := reopened.List(context.Background(), Filter{Kind: KindPrune})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || !events[0].At.Equal(at) {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestNewSQLiteStoreNilDB(t *testing.T) {
	if _, err := NewSQLiteStore(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}
