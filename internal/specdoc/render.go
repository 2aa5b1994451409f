// Package specdoc renders analysis results into the fixed-structure
// specification document. Rendering is deterministic: identical inputs
// reproduce byte-identical output, since the document is diffed and
// reviewed by humans across revisions.
package specdoc

import (
	"fmt"
	"strings"

	"flowspec/internal/analysis"
)

// Blank is the placeholder rendered for null, empty, or whitespace-only
// values so table structure never breaks.
const Blank = "―"

const sectionSeparator = "\n\n---\n\n"

// Meta carries the document metadata rendered alongside one flow analysis.
type Meta struct {
	SolutionName string
	PackageName  string
	CreatedAt    string
	Version      int
	ChangeReason string
}

// changeReason returns the explicit reason or the version-derived default.
func (m Meta) changeReason() string {
	if strings.TrimSpace(m.ChangeReason) != "" {
		return m.ChangeReason
	}
	if m.Version == 1 {
		return "initial creation"
	}
	return "update"
}

// Render produces the markdown document for one flow. All seven sections
// always appear, in order, with placeholder rows when a list is empty.
func Render(result analysis.Result, meta Meta) string {
	sections := []string{
		renderHeader(result, meta),
		renderOverview(result, meta),
		renderConnectors(result.Connectors),
		renderTriggers(result.Triggers),
		renderActions(result.Actions),
		renderFailureImpact(result.Triggers, result.Actions),
		renderQuestions(result.Questions),
		renderChangeHistory(meta),
	}
	return strings.Join(sections, sectionSeparator) + "\n"
}

// cell normalizes one table cell: blanks become the placeholder, pipes are
// escaped, and embedded line breaks collapse to single spaces so no row
// spans multiple lines.
func cell(value string) string {
	return cellOr(value, Blank)
}

func cellOr(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	escaped := strings.ReplaceAll(trimmed, "|", "\\|")
	escaped = strings.ReplaceAll(escaped, "\r\n", " ")
	escaped = strings.ReplaceAll(escaped, "\n", " ")
	escaped = strings.ReplaceAll(escaped, "\r", " ")
	return escaped
}

func renderHeader(result analysis.Result, meta Meta) string {
	return strings.Join([]string{
		"# Flow Specification: " + cell(result.FlowDisplayName),
		"",
		"**Solution:** " + cell(meta.SolutionName),
		fmt.Sprintf("**Version:** v%d", meta.Version),
	}, "\n")
}

func renderOverview(result analysis.Result, meta Meta) string {
	triggerSummary := summarize(len(result.Triggers), func(i int) string {
		trigger := result.Triggers[i]
		if trigger.SkillMatch != nil && strings.TrimSpace(trigger.SkillMatch.BusinessMeaning) != "" {
			return cell(trigger.SkillMatch.BusinessMeaning)
		}
		return cell(trigger.OperationID)
	})
	actionSummary := summarize(len(result.Actions), func(i int) string {
		action := result.Actions[i]
		if action.SkillMatch != nil && strings.TrimSpace(action.SkillMatch.BusinessMeaning) != "" {
			return cell(action.SkillMatch.BusinessMeaning)
		}
		return cell(action.OperationID)
	})

	return strings.Join([]string{
		"## 1. Overview",
		"",
		"| Item | Value |",
		"| --- | --- |",
		"| Flow name | " + cell(result.FlowDisplayName) + " |",
		"| Package name | " + cell(meta.PackageName) + " |",
		"| Exported at | " + cell(meta.CreatedAt) + " |",
		"| Trigger summary | " + triggerSummary + " |",
		"| Action summary | " + actionSummary + " |",
		fmt.Sprintf("| Connector count | %d |", len(result.Connectors)),
	}, "\n")
}

func summarize(count int, describe func(int) string) string {
	if count == 0 {
		return Blank
	}
	parts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		parts = append(parts, describe(i))
	}
	return strings.Join(parts, ", ")
}

func renderConnectors(connectors []analysis.ConnectorInfo) string {
	lines := []string{
		"## 2. Connectors",
		"",
		"| # | Connector ID | Display Name | API Name |",
		"| --- | --- | --- | --- |",
	}
	if len(connectors) == 0 {
		lines = append(lines, placeholderRow(4))
	}
	for i, connector := range connectors {
		lines = append(lines, fmt.Sprintf("| %d | %s | %s | %s |",
			i+1, cell(connector.ConnectorID), cell(connector.DisplayName), cell(connector.APIName)))
	}
	return strings.Join(lines, "\n")
}

func renderTriggers(triggers []analysis.TriggerInfo) string {
	lines := []string{
		"## 3. Triggers",
		"",
		"| # | Trigger | Type | Connector | Operation | Recurrence | Business Meaning |",
		"| --- | --- | --- | --- | --- | --- | --- |",
	}
	if len(triggers) == 0 {
		lines = append(lines, placeholderRow(7))
	}
	for i, trigger := range triggers {
		recurrence := Blank
		if trigger.Recurrence != nil {
			recurrence = fmt.Sprintf("%d %s", trigger.Recurrence.Interval, cell(trigger.Recurrence.Frequency))
		}
		lines = append(lines, fmt.Sprintf("| %d | %s | %s | %s | %s | %s | %s |",
			i+1, cell(trigger.Name), cell(trigger.Type), cell(trigger.ConnectorID),
			cell(trigger.OperationID), recurrence, cell(matchMeaning(trigger.SkillMatch))))
	}
	return strings.Join(lines, "\n")
}

func renderActions(actions []analysis.ActionInfo) string {
	lines := []string{
		"## 4. Actions",
		"",
		"| # | Action | Type | Connector | Operation | Depends On | Business Meaning |",
		"| --- | --- | --- | --- | --- | --- | --- |",
	}
	if len(actions) == 0 {
		lines = append(lines, placeholderRow(7))
	}
	for i, action := range actions {
		dependsOn := Blank
		if len(action.DependsOn) > 0 {
			escaped := make([]string, 0, len(action.DependsOn))
			for _, dependency := range action.DependsOn {
				escaped = append(escaped, cell(dependency))
			}
			dependsOn = strings.Join(escaped, ", ")
		}
		lines = append(lines, fmt.Sprintf("| %d | %s | %s | %s | %s | %s | %s |",
			i+1, cell(action.Name), cell(action.Type), cell(action.ConnectorID),
			cell(action.OperationID), dependsOn, cell(matchMeaning(action.SkillMatch))))
	}
	return strings.Join(lines, "\n")
}

func renderFailureImpact(triggers []analysis.TriggerInfo, actions []analysis.ActionInfo) string {
	lines := []string{
		"## 5. Failure Impact",
		"",
		"| # | Target | Kind | Impact on Failure |",
		"| --- | --- | --- | --- |",
	}

	type impactRow struct {
		name   string
		kind   string
		impact string
	}
	rows := make([]impactRow, 0, len(triggers)+len(actions))
	for _, trigger := range triggers {
		rows = append(rows, impactRow{name: trigger.Name, kind: "trigger", impact: matchImpact(trigger.SkillMatch)})
	}
	for _, action := range actions {
		rows = append(rows, impactRow{name: action.Name, kind: "action", impact: matchImpact(action.SkillMatch)})
	}

	if len(rows) == 0 {
		lines = append(lines, placeholderRow(4))
	}
	for i, row := range rows {
		lines = append(lines, fmt.Sprintf("| %d | %s | %s | %s |",
			i+1, cell(row.name), cell(row.kind), cell(row.impact)))
	}
	return strings.Join(lines, "\n")
}

func renderQuestions(questions []analysis.Question) string {
	lines := []string{
		"## 6. Open Questions",
		"",
		"| # | Category | Target | Question | Reason |",
		"| --- | --- | --- | --- | --- |",
	}
	if len(questions) == 0 {
		lines = append(lines, placeholderRow(5))
	}
	for i, question := range questions {
		lines = append(lines, fmt.Sprintf("| %d | %s | %s | %s | %s |",
			i+1, cell(string(question.Category)), cell(question.Target),
			cell(question.Question), cell(question.Reason)))
	}
	return strings.Join(lines, "\n")
}

func renderChangeHistory(meta Meta) string {
	return strings.Join([]string{
		"## 7. Change History",
		"",
		"| Version | Timestamp | Change Reason |",
		"| --- | --- | --- |",
		fmt.Sprintf("| v%d | %s | %s |", meta.Version, cell(meta.CreatedAt), cell(meta.changeReason())),
	}, "\n")
}

// RenderAll joins the per-flow documents of one package into a single file.
func RenderAll(results []analysis.Result, meta Meta) string {
	documents := make([]string, 0, len(results))
	for _, result := range results {
		documents = append(documents, Render(result, meta))
	}
	return strings.Join(documents, sectionSeparator)
}

func matchMeaning(match *analysis.Match) string {
	if match == nil {
		return ""
	}
	return match.BusinessMeaning
}

func matchImpact(match *analysis.Match) string {
	if match == nil {
		return ""
	}
	return match.FailureImpact
}

func placeholderRow(columns int) string {
	cells := make([]string, columns)
	for i := range cells {
		cells[i] = Blank
	}
	return "| " + strings.Join(cells, " | ") + " |"
}
