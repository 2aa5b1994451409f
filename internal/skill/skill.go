package skill

import (
	"fmt"
	"strings"
	"time"
)

// Definition is one knowledge record. ConnectorID is either a bare connector
// id (connector-level default, ActionName empty) or the composite key
// "connector/action" with ActionName carrying the operation name.
type Definition struct {
	ConnectorID     string    `yaml:"connectorId" json:"connectorId"`
	ActionName      string    `yaml:"actionName,omitempty" json:"actionName,omitempty"`
	BusinessMeaning string    `yaml:"businessMeaning,omitempty" json:"businessMeaning,omitempty"`
	FailureImpact   string    `yaml:"failureImpact,omitempty" json:"failureImpact,omitempty"`
	Notes           string    `yaml:"notes,omitempty" json:"notes,omitempty"`
	UpdatedAt       time.Time `yaml:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// Key returns the uniqueness key of the definition: the composite key for
// operation-level records, the bare connector id otherwise.
func (d Definition) Key() string {
	connectorID := strings.TrimSpace(d.ConnectorID)
	actionName := strings.TrimSpace(d.ActionName)
	if actionName == "" {
		return connectorID
	}
	if strings.Contains(connectorID, "/") {
		return connectorID
	}
	return connectorID + "/" + actionName
}

// Validate checks required fields and key shape.
func (d Definition) Validate() error {
	connectorID := strings.TrimSpace(d.ConnectorID)
	if connectorID == "" {
		return fmt.Errorf("connector id is required")
	}
	actionName := strings.TrimSpace(d.ActionName)
	if actionName == "" && strings.Contains(connectorID, "/") {
		return fmt.Errorf("composite connector id %q requires an action name", connectorID)
	}
	if actionName != "" {
		suffix := connectorID[strings.LastIndex(connectorID, "/")+1:]
		if strings.Contains(connectorID, "/") && suffix != actionName {
			return fmt.Errorf("connector id %q does not match action name %q", connectorID, actionName)
		}
	}
	return nil
}

func validateUnique(definitions []Definition) error {
	seen := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if err := definition.Validate(); err != nil {
			return err
		}
		key := definition.Key()
		if _, duplicate := seen[key]; duplicate {
			return fmt.Errorf("duplicate skill definition %q", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
