package analysis

import (
	"fmt"
	"sort"
)

// Category classifies a generated question.
type Category string

const (
	CategoryTrigger    Category = "trigger"
	CategoryAction     Category = "action"
	CategoryConnection Category = "connection"
	CategoryGeneral    Category = "general"
)

// Question is an open item requiring human clarification.
type Question struct {
	Category Category `json:"category"`
	Target   string   `json:"target"`
	Question string   `json:"question"`
	Reason   string   `json:"reason"`
}

// generateQuestions emits one question per trigger or action whose business
// meaning is unknown, and one per scheduled trigger asking whether the
// cadence satisfies business requirements regardless of match status.
// Ordering follows flattening order.
func generateQuestions(triggers []TriggerInfo, actions []ActionInfo) []Question {
	var questions []Question

	for _, trigger := range triggers {
		if trigger.SkillMatch == nil {
			questions = append(questions, Question{
				Category: CategoryTrigger,
				Target:   trigger.Name,
				Question: fmt.Sprintf("What is the business purpose of trigger %q (%s)?", trigger.Name, trigger.OperationID),
				Reason:   "No skill definition is registered, so the business meaning needs confirmation.",
			})
		}
		if trigger.Recurrence != nil {
			questions = append(questions, Question{
				Category: CategoryTrigger,
				Target:   trigger.Name,
				Question: fmt.Sprintf("Does the trigger cadence (every %d %s) satisfy the business requirements?", trigger.Recurrence.Interval, trigger.Recurrence.Frequency),
				Reason:   "The execution frequency needs confirmation against business requirements.",
			})
		}
	}

	for _, action := range actions {
		if action.SkillMatch == nil && action.ConnectorID != "" {
			questions = append(questions, Question{
				Category: CategoryAction,
				Target:   action.Name,
				Question: fmt.Sprintf("What is the business purpose of action %q (%s)?", action.Name, action.OperationID),
				Reason:   "No skill definition is registered, so the business meaning needs confirmation.",
			})
		}
	}

	return questions
}

// sortedKeys returns map keys in lexical order so flattening is
// deterministic across runs.
func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
