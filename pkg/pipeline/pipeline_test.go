package pipeline

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/jllopis/concord/pkg/artifact"
	"github.com/jllopis/concord/pkg/audit"
	"github.com/jllopis/concord/pkg/config"
	"github.com/jllopis/concord/pkg/consensus"
	"github.com/jllopis/concord/pkg/errors"
	"github.com/jllopis/concord/pkg/llm"
	"github.com/jllopis/concord/pkg/parser"
	"github.com/jllopis/concord/pkg/role"
	ctesting "github.com/jllopis/concord/pkg/testing"
)

var (
	critiqueSchema = parser.Schema{Fields: []parser.Field{
		{Name: "errors", Type: parser.TypeString},
		{Name: "suggestions", Type: parser.TypeString},
	}}
	judgeSchema = parser.Schema{Fields: []parser.Field{
		{Name: "decision", Type: parser.TypeBoolean},
		{Name: "reason", Type: parser.TypeString},
	}, ContentField: "reason"}
)

func testRoles() []config.RoleConfig {
	return []config.RoleConfig{
		{Name: "project_manager", System: "Define projects.", Memory: true, Schema: parser.Schema{
			Fields: []parser.Field{
				{Name: "problem_definition", Type: parser.TypeString},
				{Name: "target", Type: parser.TypeString},
			},
			ContentField: "problem_definition",
		}},
		{Name: "data_scientist", System: "Review definitions.", Schema: critiqueSchema},
		{Name: "project_master", System: "Arbitrate.", Schema: judgeSchema},
		{Name: "table_designer", System: "Design headers.", Schema: parser.Schema{Open: true}},
		{Name: "label_designer", System: "Design labels.", Schema: parser.Schema{Open: true}},
		{Name: "data_architect", System: "Prune.", Schema: parser.Schema{
			Fields: []parser.Field{
				{Name: "del_table_names", Type: parser.TypeList},
				{Name: "del_label_names", Type: parser.TypeList},
				{Name: "reason", Type: parser.TypeString},
			},
			ContentField: "reason",
		}},
		{Name: "annotator", System: "Annotate.", Memory: true},
		{Name: "annotation_reviewer", System: "Review annotations.", Schema: critiqueSchema},
		{Name: "annotation_judge", System: "Judge annotations.", Schema: judgeSchema},
	}
}

func testStages() config.StageRoles {
	return config.StageRoles{
		Definition: config.NegotiationRoles{Proposer: "project_manager", Critic: "data_scientist", Arbiter: "project_master"},
		Schema:     config.ReviewRoles{HeaderProposer: "table_designer", LabelProposer: "label_designer", Pruner: "data_architect"},
		Annotation: config.NegotiationRoles{Proposer: "annotator", Critic: "annotation_reviewer", Arbiter: "annotation_judge"},
	}
}

const (
	definitionReply = "```yaml\nproblem_definition: Extract pain symptoms\ntarget: outpatients\n```"
	emptyCritique   = "```yaml\nerrors: ''\nsuggestions: ''\n```"
	headersReply    = "```yaml\nage:\n  type: number\n  description: Age in years\nbroken:\n  type: blob\n  description: nope\n```"
	labelsReply     = "```yaml\nsym_pai: Pain|A pain symptom|headache\nBadName: X|y|z\n```"
)

// happyScript answers every role so that the run converges without revisions.
func happyScript() *ctesting.RoleScript {
	return ctesting.NewRoleScript().
		On("project_manager", definitionReply).
		On("data_scientist", emptyCritique).
		OnFunc("table_designer", func(llm.ChatRequest) (string, error) { return headersReply, nil }).
		OnFunc("label_designer", func(llm.ChatRequest) (string, error) { return labelsReply, nil }).
		On("data_architect",
			"```yaml\ndel_table_names: []\ndel_label_names: [tim]\nreason: time is out of scope\n```",
			"```yaml\ndel_table_names: []\ndel_label_names: []\nreason: nothing to remove\n```").
		OnFunc("annotator", func(req llm.ChatRequest) (string, error) {
			msg := req.LastUserMessage()
			switch {
			case strings.Contains(msg, "Pain for 3 days"):
				return "<sym_pai>Pain</sym_pai> for 3 days", nil
			case strings.Contains(msg, "No fever"):
				return "No <sym>fever</sym>", nil
			}
			return "", stderrors.New("unexpected unit")
		}).
		OnFunc("annotation_reviewer", func(req llm.ChatRequest) (string, error) {
			if strings.Contains(req.LastUserMessage(), "tags_properly_nested: true") {
				return emptyCritique, nil
			}
			return "```yaml\nerrors: tags are broken\nsuggestions: ''\n```", nil
		})
}

func testRequest() Request {
	return Request{
		RunID:       "run-1",
		Requirement: "Find patients with pain.",
		Reference: artifact.Reference{
			"sym": {DisplayName: "Symptom", Description: "Any symptom", Example: "fever"},
			"tim": {DisplayName: "Time", Description: "A point in time", Example: "1 week ago"},
		},
		Units: []Unit{{ID: "u1", Text: "Pain for 3 days"}, {ID: "u2", Text: " No fever\n"}},
	}
}

func TestRunEndToEnd(t *testing.T) {
	script := happyScript()
	reg := role.NewRegistry(testRoles(), script)
	defer reg.Close()
	store := audit.NewMemoryStore()

	o := New(reg, testStages(), WithAudit(store), WithPolicy(Policy{MaxRounds: 3, Concurrency: 2}))
	res, err := o.Run(context.Background(), testRequest())
	ctesting.RequireNoError(t, err, "run")

	if v, _ := res.Definition.Get("problem_definition"); v != "Extract pain symptoms" {
		t.Errorf("unexpected definition %v", res.Definition.Fields())
	}
	if res.DefinitionRounds != 1 || res.DefinitionForced {
		t.Errorf("definition should converge in one round, got %d forced=%v", res.DefinitionRounds, res.DefinitionForced)
	}
	if script.CallCount("project_master") != 0 {
		t.Errorf("arbiter must not run for an empty critique")
	}

	if got := strings.Join(res.Schema.HeaderNames(), ","); got != "age" {
		t.Errorf("unexpected headers %s", got)
	}
	if got := strings.Join(res.Schema.Labels.Names(), ","); got != "sym,sym_pai" {
		t.Errorf("unexpected labels %s", got)
	}
	if res.SchemaPasses != 2 {
		t.Errorf("expected the second unchanged pass to stop the stage, got %d passes", res.SchemaPasses)
	}

	if len(res.Annotations) != 2 {
		t.Fatalf("expected 2 annotations, got %d", len(res.Annotations))
	}
	first, second := res.Annotations[0], res.Annotations[1]
	if first.Unit != "u1" || second.Unit != "u2" {
		t.Errorf("annotations must keep unit order: %s, %s", first.Unit, second.Unit)
	}
	if !first.Report.WellFormed || first.Report.Fragments["sym_pai"][0] != "Pain" {
		t.Errorf("unexpected report for u1: %+v", first.Report)
	}
	if second.Source != "No fever" || !second.Report.WellFormed {
		t.Errorf("unexpected annotation for u2: %+v", second)
	}
	if len(res.Forced()) != 0 {
		t.Errorf("nothing should be forced, got %v", res.Forced())
	}
	if script.CallCount("annotation_judge") != 0 {
		t.Errorf("judge must not run when reviews are empty")
	}

	completed, _ := store.List(context.Background(), audit.Filter{RunID: "run-1", Kind: audit.KindStageCompleted})
	if len(completed) != 3 {
		t.Errorf("expected 3 completed stages, got %d", len(completed))
	}
	validations, _ := store.List(context.Background(), audit.Filter{Kind: audit.KindValidation})
	if len(validations) != 2 {
		t.Errorf("expected a validation event per unit, got %d", len(validations))
	}
	prunes, _ := store.List(context.Background(), audit.Filter{Stage: StageSchema, Kind: audit.KindPrune})
	if len(prunes) != 2 {
		t.Errorf("expected a prune event per pass, got %d", len(prunes))
	}
}

func TestSchemaPassSeesAccumulatedSchema(t *testing.T) {
	script := happyScript()
	reg := role.NewRegistry(testRoles(), script)
	defer reg.Close()

	o := New(reg, testStages())
	_, err := o.Run(context.Background(), testRequest())
	ctesting.RequireNoError(t, err, "run")

	reqs := script.RequestsFor("table_designer")
	if len(reqs) != 2 {
		t.Fatalf("expected 2 header drafts, got %d", len(reqs))
	}
	if strings.Contains(reqs[0].LastUserMessage(), "age:") {
		t.Errorf("first pass must not list age as existing")
	}
	if !strings.Contains(reqs[1].LastUserMessage(), "age:") {
		t.Errorf("second pass must list the accumulated headers:\n%s", reqs[1].LastUserMessage())
	}
	pruneMsg := script.RequestsFor("data_architect")[0].LastUserMessage()
	for _, want := range []string{"proposed_by_table_designer", "sym_pai", "tim:"} {
		if !strings.Contains(pruneMsg, want) {
			t.Errorf("prune request missing %q", want)
		}
	}
}

func TestDefinitionRevision(t *testing.T) {
	script := ctesting.NewRoleScript().
		On("project_manager", definitionReply, "```yaml\nproblem_definition: Extract pain symptoms with onset\ntarget: outpatients\n```").
		On("data_scientist", "```yaml\nerrors: onset is missing\nsuggestions: ''\n```", emptyCritique).
		On("project_master", "```yaml\ndecision: true\nreason: the onset matters\n```")
	reg := role.NewRegistry(testRoles(), script)
	defer reg.Close()

	o := New(reg, testStages())
	out, def, err := o.Define(context.Background(), "run-1", "Find patients with pain.")
	ctesting.RequireNoError(t, err, "define")

	if len(out.Rounds) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(out.Rounds))
	}
	if v, _ := def.Get("problem_definition"); v != "Extract pain symptoms with onset" {
		t.Errorf("expected revised definition, got %v", v)
	}
	revision := script.RequestsFor("project_manager")[1].LastUserMessage()
	for _, want := range []string{"# Previous Definition", "onset is missing", "the onset matters"} {
		if !strings.Contains(revision, want) {
			t.Errorf("revision request missing %q:\n%s", want, revision)
		}
	}
	review := script.RequestsFor("data_scientist")[1].LastUserMessage()
	if !strings.Contains(review, "# Previous Review") {
		t.Errorf("second review must carry the previous review:\n%s", review)
	}
}

func TestForcedAnnotationIsReported(t *testing.T) {
	script := happyScript().
		OnFunc("annotation_reviewer", func(llm.ChatRequest) (string, error) {
			return "```yaml\nerrors: ''\nsuggestions: annotate the duration too\n```", nil
		}).
		OnFunc("annotation_judge", func(llm.ChatRequest) (string, error) {
			return "```yaml\ndecision: true\nreason: agreed\n```", nil
		})
	reg := role.NewRegistry(testRoles(), script)
	defer reg.Close()
	store := audit.NewMemoryStore()

	req := testRequest()
	req.Units = req.Units[:1]
	o := New(reg, testStages(), WithAudit(store), WithPolicy(Policy{MaxRounds: 2}))
	res, err := o.Run(context.Background(), req)
	ctesting.RequireNoError(t, err, "run")

	if !res.Annotations[0].Forced || res.Annotations[0].Rounds != 2 {
		t.Errorf("expected forced acceptance after 2 rounds, got %+v", res.Annotations[0])
	}
	if got := res.Forced(); len(got) != 1 || got[0] != "annotation/u1" {
		t.Errorf("unexpected forced list %v", got)
	}
	if script.CallCount("annotator") != 2 {
		t.Errorf("annotator must run once per round, got %d", script.CallCount("annotator"))
	}
	events, _ := store.List(context.Background(), audit.Filter{Kind: audit.KindForcedAcceptance})
	if len(events) != 1 || events[0].Unit != "u1" || events[0].Stage != StageAnnotation {
		t.Errorf("unexpected forced acceptance events %+v", events)
	}
}

func TestAnnotationMemoryIsPerUnit(t *testing.T) {
	script := happyScript()
	reg := role.NewRegistry(testRoles(), script)
	defer reg.Close()

	o := New(reg, testStages(), WithPolicy(Policy{Concurrency: 1}))
	_, err := o.Run(context.Background(), testRequest())
	ctesting.RequireNoError(t, err, "run")

	for _, req := range script.RequestsFor("annotator") {
		// system prompt plus the single annotation request
		if len(req.Messages) != 2 {
			t.Errorf("annotator memory leaked across units: %d messages", len(req.Messages))
		}
	}
}

func TestStageFailureCarriesLocation(t *testing.T) {
	script := happyScript().Fail("table_designer", stderrors.New("connection refused"))
	reg := role.NewRegistry(testRoles(), script)
	defer reg.Close()
	store := audit.NewMemoryStore()

	o := New(reg, testStages(), WithAudit(store))
	_, err := o.Run(context.Background(), testRequest())
	if !errors.IsCode(err, errors.CodeCollaboratorFailure) {
		t.Fatalf("expected collaborator failure, got %v", err)
	}
	pe := errors.AsPipelineError(err)
	if pe.Stage() != StageSchema || pe.Role() != "table_designer" || pe.Round() != 1 {
		t.Errorf("unexpected location %v", pe.Context)
	}
	for _, want := range []string{"schema", "table_designer"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error text missing %q: %v", want, err)
		}
	}
	failed, _ := store.List(context.Background(), audit.Filter{Kind: audit.KindStageFailed})
	if len(failed) != 1 || failed[0].Stage != StageSchema || failed[0].Role != "table_designer" {
		t.Errorf("unexpected stage_failed events %+v", failed)
	}
	if script.CallCount("annotator") != 0 {
		t.Errorf("annotation must not start after a failed stage")
	}
}

func TestRunValidation(t *testing.T) {
	reg := role.NewRegistry(testRoles(), ctesting.NewRoleScript())
	o := New(reg, testStages())

	if _, err := o.Run(context.Background(), Request{}); !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Errorf("expected invalid input for empty requirement, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx, testRequest())
	if !errors.IsCode(err, errors.CodeContextLost) {
		t.Fatalf("expected context lost, got %v", err)
	}
	if errors.AsPipelineError(err).Stage() != StageDefinition {
		t.Errorf("expected cancellation before the definition stage, got %v", err)
	}

	_, err = o.Annotate(context.Background(), "run", artifact.NewSchema(artifact.Reference{"sym": {DisplayName: "S"}}),
		[]Unit{{ID: "a", Text: "x"}, {ID: "a", Text: "y"}})
	if !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Errorf("expected duplicate unit rejection, got %v", err)
	}
}

func TestDefaultPolicyRetriesUnparsableReplies(t *testing.T) {
	policies := []struct {
		name string
		opts []Option
	}{
		{name: "no policy"},
		{name: "partial policy", opts: []Option{WithPolicy(Policy{MaxRounds: 5})}},
	}
	for _, tc := range policies {
		t.Run(tc.name, func(t *testing.T) {
			script := ctesting.NewRoleScript().
				On("project_manager", "The project is about pain.", "Still prose.", definitionReply).
				On("data_scientist", emptyCritique)
			reg := role.NewRegistry(testRoles(), script)
			defer reg.Close()

			o := New(reg, testStages(), tc.opts...)
			ctesting.RequireEqual(t, consensus.DefaultMaxParseRetries, o.Policy().MaxParseRetries, "effective retries")
			_, def, err := o.Define(context.Background(), "run-1", "Find patients with pain.")
			ctesting.RequireNoError(t, err, "define")
			ctesting.RequireEqual(t, 3, script.CallCount("project_manager"), "proposer attempts")
			if v, _ := def.Get("problem_definition"); v != "Extract pain symptoms" {
				t.Errorf("unexpected definition %v", def.Fields())
			}
		})
	}
}

func TestPolicyFromConfigKeepsZeroRetries(t *testing.T) {
	cfg := &config.Config{}
	cfg.Policy.MaxRounds = 2
	cfg.Policy.SchemaPasses = 1
	cfg.Pipeline.Concurrency = 1

	script := ctesting.NewRoleScript().On("project_manager", "prose only", definitionReply)
	reg := role.NewRegistry(testRoles(), script)
	defer reg.Close()

	o := New(reg, testStages(), WithPolicy(PolicyFromConfig(cfg)))
	ctesting.RequireEqual(t, consensus.NoParseRetries, o.Policy().MaxParseRetries, "effective retries")
	_, _, err := o.Define(context.Background(), "run-1", "Find patients with pain.")
	if !errors.IsCode(err, errors.CodeParseFailure) {
		t.Fatalf("expected parse failure without retries, got %v", err)
	}
	ctesting.RequireEqual(t, 1, script.CallCount("project_manager"), "proposer attempts")
}
