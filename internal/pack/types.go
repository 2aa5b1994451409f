package pack

import "encoding/json"

// Package is the decoded contents of an exported automation archive.
// It is immutable once parsed. RawManifest holds the undecoded
// manifest.json bytes so fields the typed structs do not model survive a
// marshal round trip.
type Package struct {
	Manifest    Manifest
	RawManifest json.RawMessage
	Flows       []Flow
}

// Manifest is the root manifest.json of the archive.
type Manifest struct {
	Schema    string              `json:"schema"`
	Details   ManifestDetails     `json:"details"`
	Resources map[string]Resource `json:"resources"`
}

type ManifestDetails struct {
	DisplayName        string `json:"displayName"`
	Description        string `json:"description"`
	CreatedTime        string `json:"createdTime"`
	PackageTelemetryID string `json:"packageTelemetryId"`
	Creator            string `json:"creator"`
	SourceEnvironment  string `json:"sourceEnvironment"`
}

// Resource is a named entry in the manifest resource map. Connector API
// descriptors carry type "Microsoft.PowerApps/apis".
type Resource struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Details   ResourceDetails `json:"details"`
	DependsOn []string        `json:"dependsOn"`
}

type ResourceDetails struct {
	DisplayName string `json:"displayName"`
	IconURI     string `json:"iconUri"`
}

// Flow is one flow asset: its definition plus the two per-flow lookup maps
// used to resolve human readable connector names.
type Flow struct {
	FlowID         string
	Definition     FlowDefinition
	RawDefinition  json.RawMessage
	APIsMap        map[string]string
	ConnectionsMap map[string]string
}

type FlowDefinition struct {
	Name       string         `json:"name"`
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Properties FlowProperties `json:"properties"`
}

type FlowProperties struct {
	APIID                string                         `json:"apiId"`
	DisplayName          string                         `json:"displayName"`
	Definition           FlowLogic                      `json:"definition"`
	ConnectionReferences map[string]ConnectionReference `json:"connectionReferences"`
	IsManaged            bool                           `json:"isManaged"`
}

type FlowLogic struct {
	Schema         string                     `json:"$schema"`
	ContentVersion string                     `json:"contentVersion"`
	Parameters     map[string]json.RawMessage `json:"parameters"`
	Triggers       map[string]Trigger         `json:"triggers"`
	Actions        map[string]Action          `json:"actions"`
	Outputs        map[string]json.RawMessage `json:"outputs"`
}

// Trigger is the entry condition of a flow. A recurrence block marks a
// scheduled trigger.
type Trigger struct {
	Type       string              `json:"type"`
	Recurrence *Recurrence         `json:"recurrence"`
	SplitOn    string              `json:"splitOn"`
	Inputs     OperationInputs     `json:"inputs"`
	RunAfter   map[string][]string `json:"runAfter"`
}

type Recurrence struct {
	Frequency string `json:"frequency"`
	Interval  int    `json:"interval"`
}

// Action is one step of a flow. Control-flow actions (scopes, conditions,
// loops) nest child actions under Actions and Else.Actions.
type Action struct {
	Type       string              `json:"type"`
	RunAfter   map[string][]string `json:"runAfter"`
	Inputs     OperationInputs     `json:"inputs"`
	Actions    map[string]Action   `json:"actions"`
	Else       *ElseBranch         `json:"else"`
	Expression json.RawMessage     `json:"expression"`
	Foreach    string              `json:"foreach"`
}

type ElseBranch struct {
	Actions map[string]Action `json:"actions"`
}

type OperationInputs struct {
	Parameters map[string]json.RawMessage `json:"parameters"`
	Host       OperationHost              `json:"host"`
}

// OperationHost names the connector and operation an action or trigger
// invokes. ConnectionName is the local connection-reference key.
type OperationHost struct {
	APIID          string `json:"apiId"`
	ConnectionName string `json:"connectionName"`
	OperationID    string `json:"operationId"`
}

// ConnectionReference maps a local key used inside a flow to a global
// connector identity.
type ConnectionReference struct {
	ConnectionName string `json:"connectionName"`
	Source         string `json:"source"`
	ID             string `json:"id"`
	Tier           string `json:"tier"`
	APIName        string `json:"apiName"`
}

// FlowsManifest lists the flow assets contained in the archive.
type FlowsManifest struct {
	PackageSchemaVersion string     `json:"packageSchemaVersion"`
	FlowAssets           FlowAssets `json:"flowAssets"`
}

type FlowAssets struct {
	AssetPaths []string `json:"assetPaths"`
}
