// Package analysis walks parsed automation packages and matches every
// trigger and action against the skill knowledge base.
package analysis

import (
	"flowspec/internal/pack"
	"flowspec/internal/skill"
)

const connectorResourceType = "Microsoft.PowerApps/apis"

// Result is the analysis of a single flow. Produced fresh on every run and
// never mutated afterward.
type Result struct {
	FlowDisplayName string          `json:"flowDisplayName"`
	Connectors      []ConnectorInfo `json:"connectors"`
	Triggers        []TriggerInfo   `json:"triggers"`
	Actions         []ActionInfo    `json:"actions"`
	Questions       []Question      `json:"questions"`
}

type ConnectorInfo struct {
	ConnectorID string `json:"connectorId"`
	DisplayName string `json:"displayName"`
	APIName     string `json:"apiName"`
}

type TriggerInfo struct {
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	ConnectorID string           `json:"connectorId"`
	OperationID string           `json:"operationId"`
	Recurrence  *pack.Recurrence `json:"recurrence,omitempty"`
	SkillMatch  *Match           `json:"skillMatch"`
}

type ActionInfo struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	ConnectorID string   `json:"connectorId"`
	OperationID string   `json:"operationId"`
	DependsOn   []string `json:"dependsOn"`
	SkillMatch  *Match   `json:"skillMatch"`
}

// Match is the skill definition resolved for one trigger or action. At most
// one per node; nil means the business meaning is unknown.
type Match struct {
	ConnectorID     string `json:"connectorId"`
	ActionName      string `json:"actionName,omitempty"`
	BusinessMeaning string `json:"businessMeaning,omitempty"`
	FailureImpact   string `json:"failureImpact,omitempty"`
}

// Analyze produces one Result per flow, preserving the package's flow
// order. It is pure: identical inputs yield identical results.
func Analyze(pkg *pack.Package, definitions []skill.Definition) []Result {
	if pkg == nil {
		return nil
	}
	results := make([]Result, 0, len(pkg.Flows))
	for _, flow := range pkg.Flows {
		results = append(results, analyzeFlow(flow, pkg, definitions))
	}
	return results
}

func analyzeFlow(flow pack.Flow, pkg *pack.Package, definitions []skill.Definition) Result {
	properties := flow.Definition.Properties

	connectors := resolveConnectors(properties.ConnectionReferences, pkg)
	triggers := collectTriggers(properties.Definition.Triggers, definitions)
	actions := collectActions(properties.Definition.Actions, definitions, nil)

	return Result{
		FlowDisplayName: properties.DisplayName,
		Connectors:      connectors,
		Triggers:        triggers,
		Actions:         actions,
		Questions:       generateQuestions(triggers, actions),
	}
}

// resolveConnectors maps each connection reference to a connector, taking
// the display name from the manifest resource whose id matches and whose
// type marks a connector API descriptor. The raw api name is the fallback.
func resolveConnectors(references map[string]pack.ConnectionReference, pkg *pack.Package) []ConnectorInfo {
	connectors := make([]ConnectorInfo, 0, len(references))
	for _, key := range sortedKeys(references) {
		reference := references[key]
		displayName := reference.APIName
		for _, resource := range pkg.Manifest.Resources {
			if resource.ID == reference.ID && resource.Type == connectorResourceType {
				if resource.Details.DisplayName != "" {
					displayName = resource.Details.DisplayName
				}
				break
			}
		}
		connectors = append(connectors, ConnectorInfo{
			ConnectorID: key,
			DisplayName: displayName,
			APIName:     reference.APIName,
		})
	}
	return connectors
}

func collectTriggers(triggers map[string]pack.Trigger, definitions []skill.Definition) []TriggerInfo {
	infos := make([]TriggerInfo, 0, len(triggers))
	for _, name := range sortedKeys(triggers) {
		trigger := triggers[name]
		connectorID := trigger.Inputs.Host.ConnectionName
		operationID := trigger.Inputs.Host.OperationID
		infos = append(infos, TriggerInfo{
			Name:        name,
			Type:        trigger.Type,
			ConnectorID: connectorID,
			OperationID: operationID,
			Recurrence:  trigger.Recurrence,
			SkillMatch:  findMatch(connectorID, operationID, definitions),
		})
	}
	return infos
}

// collectActions flattens the action tree in pre-order, recursing into
// nested bodies and else branches. A node declaring no runAfter entries
// inherits the enclosing container's name as its dependency set.
func collectActions(actions map[string]pack.Action, definitions []skill.Definition, parentDeps []string) []ActionInfo {
	infos := make([]ActionInfo, 0, len(actions))
	for _, name := range sortedKeys(actions) {
		action := actions[name]
		connectorID := action.Inputs.Host.ConnectionName
		operationID := action.Inputs.Host.OperationID

		dependsOn := make([]string, 0, len(action.RunAfter))
		for _, predecessor := range sortedKeys(action.RunAfter) {
			dependsOn = append(dependsOn, predecessor)
		}
		if len(dependsOn) == 0 {
			dependsOn = append(dependsOn, parentDeps...)
		}

		infos = append(infos, ActionInfo{
			Name:        name,
			Type:        action.Type,
			ConnectorID: connectorID,
			OperationID: operationID,
			DependsOn:   dependsOn,
			SkillMatch:  findMatch(connectorID, operationID, definitions),
		})

		if len(action.Actions) > 0 {
			infos = append(infos, collectActions(action.Actions, definitions, []string{name})...)
		}
		if action.Else != nil && len(action.Else.Actions) > 0 {
			infos = append(infos, collectActions(action.Else.Actions, definitions, []string{name})...)
		}
	}
	return infos
}

// findMatch resolves the skill definition for a connector/operation pair.
// Precedence, first match wins: composite key, connector plus action name
// fields, connector-level default. Nodes without a connector identity never
// match.
func findMatch(connectorID, operationID string, definitions []skill.Definition) *Match {
	if connectorID == "" {
		return nil
	}

	if operationID != "" {
		compositeKey := connectorID + "/" + operationID
		for _, definition := range definitions {
			if definition.ConnectorID == compositeKey {
				return matchFrom(definition)
			}
		}
		for _, definition := range definitions {
			if definition.ConnectorID == connectorID && definition.ActionName == operationID {
				return matchFrom(definition)
			}
		}
	}

	for _, definition := range definitions {
		if definition.ConnectorID == connectorID && definition.ActionName == "" {
			return matchFrom(definition)
		}
	}
	return nil
}

func matchFrom(definition skill.Definition) *Match {
	return &Match{
		ConnectorID:     definition.ConnectorID,
		ActionName:      definition.ActionName,
		BusinessMeaning: definition.BusinessMeaning,
		FailureImpact:   definition.FailureImpact,
	}
}
