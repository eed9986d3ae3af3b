// Package render formats plans, apply reports and verification results for
// the command line, either as plain text or styled for terminals.
package render

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/stated/internal/state"
	"github.com/alexisbeaulieu97/stated/pkg/diff"
)

// DomainPlan is the planned change set for one domain. Current and Desired,
// when set, are rendered as a unified document diff.
type DomainPlan struct {
	Diff    *state.StateDiff
	Current any
	Desired any
}

// Renderer writes human-readable output.
type Renderer struct {
	w io.Writer
	p palette
}

// New returns a Renderer writing to w. Styled enables lipgloss colours.
func New(w io.Writer, styled bool) *Renderer {
	return &Renderer{w: w, p: palette{styled: styled}}
}

// Plan writes the changes each domain would receive.
func (r *Renderer) Plan(plans []DomainPlan) error {
	var b strings.Builder
	changed := 0
	for _, plan := range plans {
		if plan.Diff.HasChanges() {
			changed++
		}
	}
	if changed == 0 {
		b.WriteString(r.p.apply(successStyle, "No changes. Desired state matches current state."))
		b.WriteString("\n")
		return r.write(b.String())
	}

	fmt.Fprintf(&b, "%s\n", r.p.apply(titleStyle, fmt.Sprintf("Plan: %d domain(s) with changes", changed)))
	for _, plan := range plans {
		if plan.Diff.IsEmpty() {
			continue
		}
		b.WriteString("\n")
		r.writeDomain(&b, plan)
	}
	return r.write(b.String())
}

func (r *Renderer) writeDomain(b *strings.Builder, plan DomainPlan) {
	d := plan.Diff
	summary := fmt.Sprintf("(create %d, modify %d, delete %d, no-op %d)",
		d.Count(state.ActionCreate), d.Count(state.ActionModify), d.Count(state.ActionDelete), d.Count(state.ActionNoOp))
	fmt.Fprintf(b, "%s %s\n", r.p.apply(domainStyle, d.Plugin), r.p.apply(mutedStyle, summary))

	for _, action := range d.Actions {
		fmt.Fprintf(b, "  %s\n", r.action(action))
	}

	if plan.Current == nil && plan.Desired == nil {
		return
	}
	current, errCur := marshalDocument(plan.Current)
	desired, errDes := marshalDocument(plan.Desired)
	if errCur != nil || errDes != nil {
		return
	}
	text := diff.GenerateUnifiedDiff(current, desired, "current/"+d.Plugin, "desired/"+d.Plugin)
	if text == "" {
		return
	}
	b.WriteString("\n")
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		fmt.Fprintf(b, "    %s\n", r.diffLine(line))
	}
}

func (r *Renderer) action(action state.StateAction) string {
	switch action.Kind {
	case state.ActionCreate:
		return r.p.apply(createStyle, "+ create "+action.Resource)
	case state.ActionModify:
		line := "~ modify " + action.Resource
		if fields := changedFields(action.Changes); len(fields) > 0 {
			line += ": " + strings.Join(fields, ", ")
		}
		return r.p.apply(modifyStyle, line)
	case state.ActionDelete:
		return r.p.apply(deleteStyle, "- delete "+action.Resource)
	default:
		return r.p.apply(noopStyle, "= no-op "+action.Resource)
	}
}

func (r *Renderer) diffLine(line string) string {
	switch {
	case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"), strings.HasPrefix(line, "@@"):
		return r.p.apply(mutedStyle, line)
	case strings.HasPrefix(line, "+"):
		return r.p.apply(createStyle, line)
	case strings.HasPrefix(line, "-"):
		return r.p.apply(deleteStyle, line)
	default:
		return line
	}
}

// Report writes the outcome of an apply run.
func (r *Renderer) Report(report *state.ApplyReport) error {
	if report == nil {
		return nil
	}
	var b strings.Builder
	if report.Success {
		fmt.Fprintf(&b, "%s\n", r.p.apply(successStyle, "Apply succeeded"))
	} else {
		fmt.Fprintf(&b, "%s\n", r.p.apply(failureStyle, "Apply failed: "+strings.Join(report.Failed(), ", ")))
	}

	if len(report.Results) == 0 {
		b.WriteString("\nNothing to apply.\n")
	}
	for _, res := range report.Results {
		status := r.p.apply(successStyle, "ok")
		if !res.Success {
			status = r.p.apply(failureStyle, "failed")
		}
		fmt.Fprintf(&b, "\n%s: %s\n", r.p.apply(domainStyle, res.Plugin), status)
		for _, change := range res.ChangesApplied {
			fmt.Fprintf(&b, "  %s\n", change)
		}
		for _, msg := range res.Errors {
			fmt.Fprintf(&b, "  %s\n", r.p.apply(failureStyle, "error: "+msg))
		}
	}

	if len(report.Checkpoints) > 0 {
		fmt.Fprintf(&b, "\n%s\n", r.p.apply(sectionStyle, "Checkpoints:"))
		for _, cp := range report.Checkpoints {
			id := ""
			if cp.Checkpoint != nil {
				id = cp.Checkpoint.ID
			}
			fmt.Fprintf(&b, "  %s %s\n", cp.Plugin, r.p.apply(mutedStyle, id))
		}
	}

	if len(report.Verifications) > 0 {
		b.WriteString("\n")
		r.writeVerifications(&b, report.Verifications)
	}

	if len(report.Rollbacks) > 0 {
		fmt.Fprintf(&b, "\n%s\n", r.p.apply(sectionStyle, "Rollbacks:"))
		for _, rb := range report.Rollbacks {
			outcome := r.p.apply(successStyle, "ok")
			if !rb.Succeeded() {
				outcome = r.p.apply(failureStyle, "failed: "+rb.Error)
			}
			fmt.Fprintf(&b, "  %s to %s: %s\n", rb.Plugin, rb.CheckpointID, outcome)
		}
	}
	return r.write(b.String())
}

// Verifications writes convergence results.
func (r *Renderer) Verifications(results []state.Verification) error {
	var b strings.Builder
	r.writeVerifications(&b, results)
	return r.write(b.String())
}

func (r *Renderer) writeVerifications(b *strings.Builder, results []state.Verification) {
	fmt.Fprintf(b, "%s\n", r.p.apply(sectionStyle, "Verification:"))
	if len(results) == 0 {
		b.WriteString("  nothing to verify\n")
		return
	}
	for _, v := range results {
		switch {
		case v.Error != "":
			fmt.Fprintf(b, "  %s %s\n", v.Plugin, r.p.apply(failureStyle, "error: "+v.Error))
		case v.Converged:
			fmt.Fprintf(b, "  %s %s\n", v.Plugin, r.p.apply(successStyle, "converged"))
		default:
			fmt.Fprintf(b, "  %s %s\n", v.Plugin, r.p.apply(modifyStyle, "drifted"))
		}
	}
}

// Document writes v as YAML.
func (r *Renderer) Document(v any) error {
	data, err := marshalDocument(v)
	if err != nil {
		return err
	}
	return r.write(string(data))
}

func (r *Renderer) write(s string) error {
	_, err := io.WriteString(r.w, s)
	return err
}

func marshalDocument(v any) ([]byte, error) {
	if v == nil {
		return []byte{}, nil
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return data, nil
}

func changedFields(changes any) []string {
	m, ok := changes.(map[string]any)
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(m))
	for key := range m {
		fields = append(fields, key)
	}
	sort.Strings(fields)
	return fields
}
