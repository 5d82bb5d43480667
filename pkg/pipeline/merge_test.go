package pipeline

import (
	"reflect"
	"testing"

	"github.com/jllopis/concord/pkg/artifact"
)

func header(kind artifact.HeaderKind, desc string) artifact.HeaderDef {
	return artifact.HeaderDef{Type: artifact.HeaderType{Kind: kind}, Description: desc}
}

func label(name string) artifact.LabelDef {
	return artifact.LabelDef{DisplayName: name, Description: name + " description", Example: "e.g."}
}

func TestMerge(t *testing.T) {
	acc := artifact.Schema{
		Headers: map[string]artifact.HeaderDef{"patient_id": header(artifact.KindString, "id")},
		Labels:  artifact.Reference{"sym": label("Symptom"), "tim": label("Time")},
	}

	tests := []struct {
		name        string
		cand        Candidates
		del         Deletions
		wantHeaders []string
		wantLabels  []string
		changed     bool
	}{
		{
			name: "adds new names",
			cand: Candidates{
				Headers: map[string]artifact.HeaderDef{"age": header(artifact.KindNumber, "age")},
				Labels:  artifact.Reference{"sym_pai": label("Pain")},
			},
			wantHeaders: []string{"age", "patient_id"},
			wantLabels:  []string{"sym", "sym_pai", "tim"},
			changed:     true,
		},
		{
			name: "existing names are not re-added",
			cand: Candidates{
				Headers: map[string]artifact.HeaderDef{"patient_id": header(artifact.KindNumber, "other")},
				Labels:  artifact.Reference{"sym": label("Other")},
			},
			wantHeaders: []string{"patient_id"},
			wantLabels:  []string{"sym", "tim"},
		},
		{
			name: "deleted candidates are dropped",
			cand: Candidates{
				Headers: map[string]artifact.HeaderDef{"age": header(artifact.KindNumber, "age")},
				Labels:  artifact.Reference{"sym_pai": label("Pain")},
			},
			del:         Deletions{Headers: []string{"age"}, Labels: []string{"sym_pai"}},
			wantHeaders: []string{"patient_id"},
			wantLabels:  []string{"sym", "tim"},
		},
		{
			name:        "deleting unknown names is a no-op",
			del:         Deletions{Headers: []string{"nope"}, Labels: []string{"zzz"}},
			wantHeaders: []string{"patient_id"},
			wantLabels:  []string{"sym", "tim"},
		},
		{
			name:        "deletions apply to accumulated items",
			del:         Deletions{Labels: []string{"tim"}},
			wantHeaders: []string{"patient_id"},
			wantLabels:  []string{"sym"},
			changed:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(acc, tt.cand, tt.del)
			if !reflect.DeepEqual(got.Schema.HeaderNames(), tt.wantHeaders) {
				t.Errorf("headers: want %v, got %v", tt.wantHeaders, got.Schema.HeaderNames())
			}
			if !reflect.DeepEqual(got.Schema.Labels.Names(), tt.wantLabels) {
				t.Errorf("labels: want %v, got %v", tt.wantLabels, got.Schema.Labels.Names())
			}
			if got.Changed() != tt.changed {
				t.Errorf("changed: want %v, got %v", tt.changed, got.Changed())
			}
		})
	}

	if len(acc.Headers) != 1 || len(acc.Labels) != 2 {
		t.Errorf("merge must not modify the accumulated schema: %+v", acc)
	}
}

func TestMergeKeepsExistingDefinition(t *testing.T) {
	acc := artifact.NewSchema(artifact.Reference{"sym": label("Symptom")})
	got := Merge(acc, Candidates{Labels: artifact.Reference{"sym": label("Replacement")}}, Deletions{})
	if got.Schema.Labels["sym"].DisplayName != "Symptom" {
		t.Errorf("existing label replaced: %+v", got.Schema.Labels["sym"])
	}
	if !reflect.DeepEqual(got.Duplicates, []string{"sym"}) {
		t.Errorf("expected duplicate report, got %v", got.Duplicates)
	}
}
