package consensus

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/concord/pkg/audit"
	"github.com/jllopis/concord/pkg/errors"
	"github.com/jllopis/concord/pkg/parser"
	ctesting "github.com/jllopis/concord/pkg/testing"
)

func TestReviewPruneDraftsConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	barrier := func(name, body string) *stubRole {
		return &stubRole{name: name, fn: func(int, string) (*parser.Record, error) {
			started.Done()
			done := make(chan struct{})
			go func() { started.Wait(); close(done) }()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				return nil, stderrors.New("drafts did not run concurrently")
			}
			return &parser.Record{Raw: body, Extra: map[string]any{body: "x"}}, nil
		}}
	}
	headers := barrier("table_designer", "age")
	labels := barrier("label_designer", "sym-sym")
	pruner := &stubRole{name: "data_architect", fn: func(int, string) (*parser.Record, error) {
		return &parser.Record{
			Fields:  map[string]any{"del_table_names": []string{"age"}, "del_label_names": []string{}, "reason": "redundant"},
			Content: "redundant",
		}, nil
	}}
	store := audit.NewMemoryStore()

	rp := &ReviewPrune{
		Stage: "schema", RunID: "run-1", Pass: 2,
		Proposers: []Role{headers, labels},
		Pruner:    pruner,
		Audit:     store,
	}
	out, err := rp.Run(context.Background())
	ctesting.RequireNoError(t, err, "run")

	if len(out.Drafts) != 2 || out.Draft("table_designer") == nil || out.Draft("label_designer") == nil {
		t.Fatalf("expected both drafts, got %+v", out.Drafts)
	}
	if pruner.calls() != 1 {
		t.Fatalf("expected one prune call, got %d", pruner.calls())
	}
	msg := pruner.message(0)
	if !strings.Contains(msg, "age") || !strings.Contains(msg, "sym-sym") {
		t.Errorf("pruner must see every draft:\n%s", msg)
	}
	events, _ := store.List(context.Background(), audit.Filter{Kind: audit.KindPrune})
	if len(events) != 1 || events[0].Round != 2 || events[0].Message != "redundant" {
		t.Errorf("unexpected prune events %+v", events)
	}
}

func TestReviewPruneDraftFailure(t *testing.T) {
	ok := &stubRole{name: "table_designer", fn: func(int, string) (*parser.Record, error) {
		return &parser.Record{}, nil
	}}
	bad := &stubRole{name: "label_designer", fn: func(int, string) (*parser.Record, error) {
		return nil, errors.New(errors.CodeParseFailure, "unparseable", nil)
	}}
	pruner := &stubRole{name: "data_architect", fn: func(int, string) (*parser.Record, error) {
		return &parser.Record{}, nil
	}}

	rp := &ReviewPrune{Stage: "schema", Proposers: []Role{ok, bad}, Pruner: pruner}
	_, err := rp.Run(context.Background())
	if !errors.IsCode(err, errors.CodeParseFailure) {
		t.Fatalf("expected parse failure, got %v", err)
	}
	pe := errors.AsPipelineError(err)
	if pe.Stage() != "schema" || pe.Role() != "label_designer" || pe.Round() != 1 {
		t.Errorf("unexpected location %v", pe.Context)
	}
	if pruner.calls() != 0 {
		t.Errorf("pruner must not run after a failed draft")
	}
}

func TestReviewPruneHooks(t *testing.T) {
	a := &stubRole{name: "a", fn: func(int, string) (*parser.Record, error) { return &parser.Record{Raw: "A"}, nil }}
	pruner := &stubRole{name: "p", fn: func(int, string) (*parser.Record, error) { return &parser.Record{}, nil }}

	rp := &ReviewPrune{
		Stage:     "schema",
		Proposers: []Role{a},
		Pruner:    pruner,
		Hooks: PruneHooks{
			Draft: func(proposer string) string { return "draft for " + proposer },
			Prune: func(drafts []Draft) string { return "prune " + drafts[0].Record.Raw },
		},
	}
	_, err := rp.Run(context.Background())
	ctesting.RequireNoError(t, err, "run")
	ctesting.RequireEqual(t, "draft for a", a.message(0), "draft message")
	ctesting.RequireEqual(t, "prune A", pruner.message(0), "prune message")
}

// ctxRole hands its call context to fn.
type ctxRole struct {
	name string
	fn   func(ctx context.Context) (*parser.Record, error)
}

func (r *ctxRole) Name() string { return r.name }

func (r *ctxRole) AskStructured(ctx context.Context, _ string, _ int) (*parser.Record, error) {
	return r.fn(ctx)
}

// waitOrCut finishes a call after d unless ctx ends first.
func waitOrCut(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return stderrors.New("call cut mid-flight")
	case <-time.After(d):
		return nil
	}
}

func TestReviewPruneCancellationDuringDrafts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var completed atomic.Int32
	draft := func(name string, cancelRun bool) *ctxRole {
		return &ctxRole{name: name, fn: func(callCtx context.Context) (*parser.Record, error) {
			if cancelRun {
				cancel()
			}
			if err := waitOrCut(callCtx, 50*time.Millisecond); err != nil {
				return nil, err
			}
			completed.Add(1)
			return &parser.Record{Raw: name}, nil
		}}
	}
	pruner := &stubRole{name: "data_architect", fn: func(int, string) (*parser.Record, error) {
		return &parser.Record{}, nil
	}}

	rp := &ReviewPrune{
		Stage:     "schema",
		Proposers: []Role{draft("table_designer", true), draft("label_designer", false)},
		Pruner:    pruner,
	}
	_, err := rp.Run(ctx)
	if !errors.IsCode(err, errors.CodeContextLost) {
		t.Fatalf("expected CONTEXT_LOST after the drafts, got %v", err)
	}
	if got := completed.Load(); got != 2 {
		t.Errorf("in-flight drafts must complete, %d of 2 did", got)
	}
	if pruner.calls() != 0 {
		t.Errorf("pruner must not start after cancellation")
	}
}

func TestReviewPruneDraftFailureDoesNotCutSibling(t *testing.T) {
	var cut atomic.Bool
	slow := &ctxRole{name: "table_designer", fn: func(ctx context.Context) (*parser.Record, error) {
		if err := waitOrCut(ctx, 50*time.Millisecond); err != nil {
			cut.Store(true)
			return nil, err
		}
		return &parser.Record{Raw: "slow"}, nil
	}}
	bad := &ctxRole{name: "label_designer", fn: func(context.Context) (*parser.Record, error) {
		return nil, errors.New(errors.CodeCollaboratorFailure, "connection refused", nil)
	}}
	pruner := &stubRole{name: "data_architect", fn: func(int, string) (*parser.Record, error) {
		return &parser.Record{}, nil
	}}

	rp := &ReviewPrune{Stage: "schema", Proposers: []Role{slow, bad}, Pruner: pruner}
	_, err := rp.Run(context.Background())
	if !errors.IsCode(err, errors.CodeCollaboratorFailure) {
		t.Fatalf("expected collaborator failure, got %v", err)
	}
	if pe := errors.AsPipelineError(err); pe.Role() != "label_designer" {
		t.Errorf("failure must name the failing draft, got %q", pe.Role())
	}
	if cut.Load() {
		t.Errorf("a failing draft must not cut its sibling mid-call")
	}
}
