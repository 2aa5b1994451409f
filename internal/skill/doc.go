// Package skill holds the knowledge base of known integration actions.
//
// A Definition maps a connector identity, optionally scoped to one
// operation, to its business meaning and failure impact. Definitions are
// kept in a single YAML file:
//
//	definitions:
//	  - connectorId: shared_office365
//	    businessMeaning: Office 365 Outlook mail operations
//	    failureImpact: Mail delivery stops and notifications are delayed
//	  - connectorId: shared_office365/SendEmailV2
//	    actionName: SendEmailV2
//	    businessMeaning: Send a mail through Office 365 Outlook
//	    failureImpact: Mail notifications are not sent
//
// Operation-level records use the composite key connectorId/actionName;
// connector-level defaults use the bare connector id and no actionName.
package skill
