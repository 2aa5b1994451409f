package skill

// SeedDefinitions are well-known connectors and their common operations,
// used to prime an empty knowledge base.
var SeedDefinitions = []Definition{
	// OneDrive for Business
	{
		ConnectorID:     "shared_onedriveforbusiness",
		BusinessMeaning: "OneDrive for Business file operations",
		FailureImpact:   "File reads and writes stop and dependent business processing is interrupted",
	},
	{
		ConnectorID:     "shared_onedriveforbusiness/OnNewFilesV2",
		ActionName:      "OnNewFilesV2",
		BusinessMeaning: "Detect new files uploaded to a OneDrive folder",
		FailureImpact:   "New files go undetected and downstream notifications never run",
	},
	{
		ConnectorID:     "shared_onedriveforbusiness/GetFileContent",
		ActionName:      "GetFileContent",
		BusinessMeaning: "Fetch file contents from OneDrive",
		FailureImpact:   "Content retrieval fails and data processing is interrupted",
	},
	{
		ConnectorID:     "shared_onedriveforbusiness/CreateFile",
		ActionName:      "CreateFile",
		BusinessMeaning: "Create a new file in OneDrive",
		FailureImpact:   "Output data is not persisted",
	},
	// Office 365 Outlook
	{
		ConnectorID:     "shared_office365",
		BusinessMeaning: "Office 365 Outlook mail operations",
		FailureImpact:   "Mail send and receive stop, interrupting notifications and communication",
	},
	{
		ConnectorID:     "shared_office365/SendEmailV2",
		ActionName:      "SendEmailV2",
		BusinessMeaning: "Send a mail through Office 365 Outlook",
		FailureImpact:   "Mail notifications are not sent and stakeholders are informed late",
	},
	{
		ConnectorID:     "shared_office365/OnNewEmail",
		ActionName:      "OnNewEmail",
		BusinessMeaning: "Trigger on newly received mail",
		FailureImpact:   "Inbound mail goes undetected and mail-driven processing never runs",
	},
	// SharePoint
	{
		ConnectorID:     "shared_sharepointonline",
		BusinessMeaning: "SharePoint Online list and library operations",
		FailureImpact:   "SharePoint reads and writes stop, interrupting information sharing",
	},
	{
		ConnectorID:     "shared_sharepointonline/GetItems",
		ActionName:      "GetItems",
		BusinessMeaning: "Fetch items from a SharePoint list",
		FailureImpact:   "List data retrieval fails and downstream processing is interrupted",
	},
	{
		ConnectorID:     "shared_sharepointonline/PostItem",
		ActionName:      "PostItem",
		BusinessMeaning: "Add a new item to a SharePoint list",
		FailureImpact:   "List records are not written and business records are lost",
	},
	// Teams
	{
		ConnectorID:     "shared_teams",
		BusinessMeaning: "Microsoft Teams message and notification operations",
		FailureImpact:   "Teams notifications stop and real-time team coordination is interrupted",
	},
	{
		ConnectorID:     "shared_teams/PostMessageToChannel",
		ActionName:      "PostMessageToChannel",
		BusinessMeaning: "Post a message to a Teams channel",
		FailureImpact:   "Channel notifications fail and team members are informed late",
	},
	// Approvals
	{
		ConnectorID:     "shared_approvals",
		BusinessMeaning: "Approval workflow processing",
		FailureImpact:   "Approval requests stall and the approval process backs up",
	},
	{
		ConnectorID:     "shared_approvals/CreateAnApproval",
		ActionName:      "CreateAnApproval",
		BusinessMeaning: "Create an approval request and send it to approvers",
		FailureImpact:   "Approval requests are not delivered and approvals stall",
	},
	{
		ConnectorID:     "shared_approvals/WaitForAnApproval",
		ActionName:      "WaitForAnApproval",
		BusinessMeaning: "Wait for an approval outcome",
		FailureImpact:   "Approval outcomes are not observed and post-approval steps never run",
	},
}
