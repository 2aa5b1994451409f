package analysis

import (
	"strings"
	"testing"

	"flowspec/internal/pack"
	"flowspec/internal/skill"
)

func onedriveInvoicePackage() *pack.Package {
	return &pack.Package{
		Manifest: pack.Manifest{
			Details: pack.ManifestDetails{DisplayName: "Invoice Automation"},
			Resources: map[string]pack.Resource{
				"r1": {
					Type:    "Microsoft.PowerApps/apis",
					ID:      "/providers/Microsoft.PowerApps/apis/shared_office365",
					Name:    "shared_office365",
					Details: pack.ResourceDetails{DisplayName: "Office 365 Outlook"},
				},
			},
		},
		Flows: []pack.Flow{
			{
				FlowID: "flow-1",
				Definition: pack.FlowDefinition{
					Properties: pack.FlowProperties{
						DisplayName: "Send invoice mail",
						ConnectionReferences: map[string]pack.ConnectionReference{
							"shared_onedrive": {
								ID:      "/providers/Microsoft.PowerApps/apis/shared_onedrive",
								APIName: "shared_onedrive",
							},
							"shared_office365": {
								ID:      "/providers/Microsoft.PowerApps/apis/shared_office365",
								APIName: "shared_office365",
							},
						},
						Definition: pack.FlowLogic{
							Triggers: map[string]pack.Trigger{
								"When_a_file_is_created": {
									Type:       "OpenApiConnection",
									Recurrence: &pack.Recurrence{Frequency: "Minute", Interval: 15},
									Inputs: pack.OperationInputs{
										Host: pack.OperationHost{ConnectionName: "shared_onedrive", OperationID: "OnNewFilesV2"},
									},
								},
							},
							Actions: map[string]pack.Action{
								"Send_an_email": {
									Type: "OpenApiConnection",
									Inputs: pack.OperationInputs{
										Host: pack.OperationHost{ConnectionName: "shared_office365", OperationID: "SendEmailV2"},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}

func TestAnalyzeUnknownPackageAsksEverything(t *testing.T) {
	results := Analyze(onedriveInvoicePackage(), nil)
	if len(results) != 1 {
		t.Fatalf("result count = %d, want 1", len(results))
	}
	result := results[0]

	if len(result.Connectors) != 2 {
		t.Errorf("connector count = %d, want 2", len(result.Connectors))
	}
	if len(result.Triggers) != 1 {
		t.Fatalf("trigger count = %d, want 1", len(result.Triggers))
	}
	if len(result.Actions) != 1 {
		t.Fatalf("action count = %d, want 1", len(result.Actions))
	}
	if len(result.Questions) != 3 {
		t.Fatalf("question count = %d, want 3 (unknown trigger, cadence, unknown action)", len(result.Questions))
	}

	var cadence *Question
	for i := range result.Questions {
		if strings.Contains(result.Questions[i].Question, "cadence") {
			cadence = &result.Questions[i]
		}
	}
	if cadence == nil {
		t.Fatal("no cadence question generated")
	}
	if !strings.Contains(cadence.Question, "15") || !strings.Contains(cadence.Question, "Minute") {
		t.Errorf("cadence question = %q, want mention of 15 and Minute", cadence.Question)
	}
}

func TestAnalyzeConnectorDisplayNameFromManifest(t *testing.T) {
	result := Analyze(onedriveInvoicePackage(), nil)[0]

	byID := map[string]ConnectorInfo{}
	for _, connector := range result.Connectors {
		byID[connector.ConnectorID] = connector
	}
	if got := byID["shared_office365"].DisplayName; got != "Office 365 Outlook" {
		t.Errorf("office365 display name = %q, want manifest resource name", got)
	}
	if got := byID["shared_onedrive"].DisplayName; got != "shared_onedrive" {
		t.Errorf("onedrive display name = %q, want api name fallback", got)
	}
}

func TestMatchPrecedence(t *testing.T) {
	definitions := []skill.Definition{
		{ConnectorID: "shared_office365", BusinessMeaning: "connector default"},
		{ConnectorID: "shared_office365", ActionName: "SendEmailV2", BusinessMeaning: "field match"},
		{ConnectorID: "shared_office365/SendEmailV2", ActionName: "SendEmailV2", BusinessMeaning: "composite match"},
	}

	match := findMatch("shared_office365", "SendEmailV2", definitions)
	if match == nil || match.BusinessMeaning != "composite match" {
		t.Fatalf("match = %+v, want composite key to win", match)
	}

	match = findMatch("shared_office365", "SendEmailV2", definitions[:2])
	if match == nil || match.BusinessMeaning != "field match" {
		t.Fatalf("match = %+v, want field pair over default", match)
	}

	match = findMatch("shared_office365", "ReplyToEmail", definitions[:2])
	if match == nil || match.BusinessMeaning != "connector default" {
		t.Fatalf("match = %+v, want connector default fallback", match)
	}

	if match := findMatch("", "SendEmailV2", definitions); match != nil {
		t.Fatalf("match = %+v, want nil for missing connector", match)
	}

	if match := findMatch("shared_unknown", "X", definitions); match != nil {
		t.Fatalf("match = %+v, want nil when nothing applies", match)
	}
}

func TestMatchedNodesRaiseNoMeaningQuestions(t *testing.T) {
	definitions := []skill.Definition{
		{ConnectorID: "shared_onedrive", ActionName: "OnNewFilesV2", BusinessMeaning: "Watch for new invoices"},
		{ConnectorID: "shared_office365", ActionName: "SendEmailV2", BusinessMeaning: "Notify accounting", FailureImpact: "Invoices go unsent"},
	}
	result := Analyze(onedriveInvoicePackage(), definitions)[0]

	// The cadence question survives even when every node is matched.
	if len(result.Questions) != 1 {
		t.Fatalf("question count = %d, want only the cadence question", len(result.Questions))
	}
	if result.Questions[0].Category != CategoryTrigger {
		t.Errorf("category = %q", result.Questions[0].Category)
	}
	if result.Actions[0].SkillMatch == nil || result.Actions[0].SkillMatch.FailureImpact != "Invoices go unsent" {
		t.Errorf("action match = %+v", result.Actions[0].SkillMatch)
	}
}

func TestNestedActionsInheritContainerDependency(t *testing.T) {
	pkg := onedriveInvoicePackage()
	properties := &pkg.Flows[0].Definition.Properties
	properties.Definition.Actions = map[string]pack.Action{
		"Check_amount": {
			Type:     "If",
			RunAfter: map[string][]string{"Fetch_invoice": {"Succeeded"}},
			Actions: map[string]pack.Action{
				"Approve": {
					Type: "OpenApiConnection",
					Inputs: pack.OperationInputs{
						Host: pack.OperationHost{ConnectionName: "shared_office365", OperationID: "SendEmailV2"},
					},
				},
			},
			Else: &pack.ElseBranch{
				Actions: map[string]pack.Action{
					"Escalate": {
						Type:     "OpenApiConnection",
						RunAfter: map[string][]string{"Approve": {"Failed"}},
						Inputs: pack.OperationInputs{
							Host: pack.OperationHost{ConnectionName: "shared_office365", OperationID: "SendEmailV2"},
						},
					},
				},
			},
		},
		"Fetch_invoice": {Type: "OpenApiConnection"},
	}

	result := Analyze(pkg, nil)[0]

	deps := map[string][]string{}
	for _, action := range result.Actions {
		deps[action.Name] = action.DependsOn
	}

	if got := deps["Check_amount"]; len(got) != 1 || got[0] != "Fetch_invoice" {
		t.Errorf("Check_amount deps = %v", got)
	}
	if got := deps["Approve"]; len(got) != 1 || got[0] != "Check_amount" {
		t.Errorf("Approve should inherit container dependency, got %v", got)
	}
	if got := deps["Escalate"]; len(got) != 1 || got[0] != "Approve" {
		t.Errorf("Escalate declares runAfter, got %v", got)
	}
	if got := deps["Fetch_invoice"]; len(got) != 0 {
		t.Errorf("Fetch_invoice deps = %v, want none", got)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	pkg := onedriveInvoicePackage()
	first := Analyze(pkg, nil)
	second := Analyze(pkg, nil)

	if len(first) != len(second) {
		t.Fatal("result counts differ across runs")
	}
	for i := range first {
		if len(first[i].Questions) != len(second[i].Questions) {
			t.Fatal("question counts differ across runs")
		}
		for j := range first[i].Questions {
			if first[i].Questions[j] != second[i].Questions[j] {
				t.Fatalf("question %d differs: %+v vs %+v", j, first[i].Questions[j], second[i].Questions[j])
			}
		}
	}
}
