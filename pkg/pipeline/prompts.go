// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"strings"

	"github.com/jllopis/concord/pkg/artifact"
	"github.com/jllopis/concord/pkg/consensus"
	"github.com/jllopis/concord/pkg/parser"
)

func block(title, body string) string {
	body = strings.TrimRight(body, "\n")
	if body == "" {
		body = "(none)"
	}
	return "# " + title + "\n```\n" + body + "\n```\n\n"
}

func tagged(tag, body string) string {
	return "<" + tag + ">\n" + strings.TrimRight(body, "\n") + "\n</" + tag + ">\n"
}

// feedback renders a critique and the arbiter's reason as revision
// requirements.
func feedback(prev *consensus.Round) string {
	if prev == nil || prev.Critique == nil {
		return ""
	}
	var b strings.Builder
	if s := strings.TrimSpace(prev.Critique.String("errors")); s != "" {
		fmt.Fprintf(&b, "Errors:\n%s\n", s)
	}
	if s := strings.TrimSpace(prev.Critique.String("suggestions")); s != "" {
		fmt.Fprintf(&b, "Suggestions:\n%s\n", s)
	}
	if prev.Decision != nil && strings.TrimSpace(prev.Decision.Reason) != "" {
		fmt.Fprintf(&b, "Decision:\n%s\n", prev.Decision.Reason)
	}
	return b.String()
}

// Definition stage.

func definitionRequest(requirement string) string {
	return block("User Requirements", requirement) +
		"Define the project for the requirements above: its objective, scope and the indicators to extract."
}

func definitionRevision(requirement string, prior *parser.Record, schema parser.Schema, prev *consensus.Round) string {
	return block("User Requirements", requirement) +
		block("Previous Definition", parser.Serialize(prior, schema)) +
		block("Review", feedback(prev)) +
		"Revise the project definition so that it resolves every error and applies the accepted suggestions."
}

func definitionReview(requirement string, candidate *parser.Record, schema parser.Schema, history []consensus.Round) string {
	var b strings.Builder
	b.WriteString(block("User Requirements", requirement))
	b.WriteString(block("Project Definition", parser.Serialize(candidate, schema)))
	if n := len(history); n > 0 {
		b.WriteString(block("Previous Review", feedback(&history[n-1])))
	}
	b.WriteString("Review the project definition against the requirements. " +
		"List errors and suggestions. Keep a field as an empty string if there is nothing to report.")
	return b.String()
}

func definitionJudgement(candidate *parser.Record, schema parser.Schema, critique *parser.Record) string {
	return block("Project Definition", parser.Serialize(candidate, schema)) +
		block("Review", renderCritique(critique)) +
		"Decide whether the review should be adopted. Set decision to true when the definition must be revised, " +
		"false when it can be accepted as it is."
}

func renderCritique(c *parser.Record) string {
	if c == nil {
		return ""
	}
	return "errors: " + strings.TrimSpace(c.String("errors")) + "\nsuggestions: " + strings.TrimSpace(c.String("suggestions"))
}

// Schema design stage.

func headerDraft(def artifact.Definition, requirement string, snapshot artifact.Schema) string {
	var b strings.Builder
	b.WriteString(tagged("project_definition", def.YAML()))
	b.WriteString(tagged("user_requirements", requirement))
	b.WriteString(tagged("existing_headers", "The following headers already exist and must not be duplicated:\n"+snapshot.HeadersYAML()))
	b.WriteString(tagged("instructions",
		"Design new table headers that complement the existing ones. "+
			"Each header maps to a type (number, boolean, date, enum[a,b,...] or string) and a description. "+
			"Prefer structured types and use string only for identifiers."))
	return b.String()
}

func labelDraft(def artifact.Definition, requirement string, snapshot artifact.Schema) string {
	var b strings.Builder
	b.WriteString(tagged("project_definition", def.YAML()))
	b.WriteString(tagged("user_requirements", requirement))
	b.WriteString(tagged("current_table_headers", snapshot.HeadersYAML()))
	b.WriteString(tagged("current_medical_entity_annotation",
		"The following labels already exist and must not be duplicated:\n"+snapshot.LabelsYAML()))
	b.WriteString(tagged("instructions",
		"Design annotation labels as tag: Name|Description|Example. "+
			"Tag names use a three-letter parent category, optionally followed by an underscore and a three-letter subcategory. "+
			"Do not add a label an existing one already covers."))
	return b.String()
}

func pruneRequest(def artifact.Definition, requirement string, snapshot artifact.Schema, drafts []consensus.Draft) string {
	var b strings.Builder
	b.WriteString(tagged("definition", def.YAML()))
	b.WriteString(tagged("user_requirements", requirement))
	b.WriteString(tagged("table_headers", snapshot.HeadersYAML()))
	b.WriteString(tagged("annotation_labels", snapshot.LabelsYAML()))
	for _, d := range drafts {
		b.WriteString(tagged("proposed_by_"+d.Role, parser.Serialize(d.Record, parser.Schema{Open: true})))
	}
	b.WriteString(tagged("instructions",
		"Identify non-essential or redundant headers and labels, existing or proposed. "+
			"Keep at least one unique identifier among the headers and prefer specific labels over broad overlapping ones. "+
			"List the names to delete in del_table_names and del_label_names and justify briefly. "+
			"Leave both lists empty if every item is needed."))
	return b.String()
}

// Annotation stage.

func annotationRequest(ref artifact.Reference, requirements, source string) string {
	return block("Reference for Medical Entity Annotation", ref.YAML()) +
		block("Annotation Requirements or Optimization Suggestions", requirements) +
		block("Information to be Annotated", source) +
		"Wrap every entity in <tag>...</tag> markers using only the tags of the reference. " +
		"Do not change, add or remove any character of the information. " +
		"Return the results with annotations DIRECTLY."
}

func annotationRevision(ref artifact.Reference, source string, prior string, prev *consensus.Round) string {
	return block("Previous Annotation", prior) + annotationRequest(ref, feedback(prev), source)
}

func annotationReview(ref artifact.Reference, source string, in consensus.CritiqueInput) string {
	var b strings.Builder
	b.WriteString(block("Reference for Medical Entity Annotation", ref.YAML()))
	b.WriteString(block("Information to be Annotated", source))
	b.WriteString(block("Annotation Results", in.Candidate.Content))
	if in.Evidence != nil {
		b.WriteString(block("Results of Tag Nesting Check", in.Evidence.Text))
	}
	if n := len(in.History); n > 0 {
		b.WriteString(block("Previous Review", feedback(&in.History[n-1])))
	}
	b.WriteString("Check that every entity is annotated with the right tag, that tags are properly nested " +
		"and that the text is unchanged. Keep errors and suggestions as empty strings if there is nothing to report.")
	return b.String()
}

func annotationJudgement(ref artifact.Reference, source string, candidate string, critique *parser.Record) string {
	return block("Reference for Medical Entity Annotation", ref.YAML()) +
		block("Information to be Annotated", source) +
		block("Annotation Results", candidate) +
		block("Review", renderCritique(critique)) +
		"Decide whether the review should be adopted. Set decision to true when the annotation must be redone, " +
		"false when it can be accepted."
}
