package pipeline

import (
	"fmt"
	"strings"

	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// rule is one fixed classification for a well-known Windows event id. The
// table answers when the model cannot, and supplies the event type when the
// model's answer lacks one.
type rule struct {
	EventType  models.SecurityEventType
	Risk       models.RiskLevel
	Confidence int
	Summary    string
	Mitre      []string
	Actions    []string

	// Channel restricts the rule to one event log channel. Empty matches
	// any channel.
	Channel string
}

// ruleTable maps Windows event ids to their canonical classification.
// Coverage follows the event ids the collector subscribes to by default.
var ruleTable = map[int]rule{
	4624: {
		EventType:  models.EventTypeAuthenticationSuccess,
		Risk:       models.RiskLevelLow,
		Confidence: 85,
		Summary:    "Successful account logon",
		Mitre:      []string{"T1078"},
		Actions:    []string{"Verify the logon source is expected", "Review logon type and originating workstation"},
	},
	4625: {
		EventType:  models.EventTypeAuthenticationFailure,
		Risk:       models.RiskLevelMedium,
		Confidence: 85,
		Summary:    "Failed account logon",
		Mitre:      []string{"T1110"},
		Actions:    []string{"Check for repeated failures from the same source", "Confirm the target account is not under attack"},
	},
	4672: {
		EventType:  models.EventTypePrivilegeEscalation,
		Risk:       models.RiskLevelMedium,
		Confidence: 80,
		Summary:    "Special privileges assigned to new logon",
		Mitre:      []string{"T1078", "T1548"},
		Actions:    []string{"Confirm the account is authorized for administrative logons", "Correlate with the preceding logon event"},
	},
	4688: {
		EventType:  models.EventTypeProcessCreation,
		Risk:       models.RiskLevelLow,
		Confidence: 75,
		Summary:    "New process created",
		Mitre:      []string{"T1059"},
		Actions:    []string{"Review the process command line and parent process"},
	},
	4698: {
		EventType:  models.EventTypeScheduledTask,
		Risk:       models.RiskLevelMedium,
		Confidence: 80,
		Summary:    "Scheduled task created",
		Mitre:      []string{"T1053.005"},
		Actions:    []string{"Inspect the task action and trigger", "Verify the creating account had reason to schedule work"},
	},
	4702: {
		EventType:  models.EventTypeScheduledTask,
		Risk:       models.RiskLevelMedium,
		Confidence: 80,
		Summary:    "Scheduled task updated",
		Mitre:      []string{"T1053.005"},
		Actions:    []string{"Diff the task definition against its previous state"},
	},
	4720: {
		EventType:  models.EventTypeAccountManagement,
		Risk:       models.RiskLevelMedium,
		Confidence: 85,
		Summary:    "User account created",
		Mitre:      []string{"T1136"},
		Actions:    []string{"Confirm the account creation was requested", "Review group memberships assigned to the new account"},
	},
	4722: {
		EventType:  models.EventTypeAccountManagement,
		Risk:       models.RiskLevelMedium,
		Confidence: 80,
		Summary:    "User account enabled",
		Mitre:      []string{"T1098"},
		Actions:    []string{"Verify the account was meant to be re-enabled"},
	},
	4724: {
		EventType:  models.EventTypeAccountManagement,
		Risk:       models.RiskLevelMedium,
		Confidence: 80,
		Summary:    "Password reset attempted on account",
		Mitre:      []string{"T1098"},
		Actions:    []string{"Confirm the reset was performed through an approved workflow"},
	},
	4728: {
		EventType:  models.EventTypeAccountManagement,
		Risk:       models.RiskLevelMedium,
		Confidence: 85,
		Summary:    "Member added to security-enabled global group",
		Mitre:      []string{"T1098"},
		Actions:    []string{"Verify the membership change was approved", "Review the privileges the group grants"},
	},
	4732: {
		EventType:  models.EventTypeAccountManagement,
		Risk:       models.RiskLevelMedium,
		Confidence: 85,
		Summary:    "Member added to security-enabled local group",
		Mitre:      []string{"T1098"},
		Actions:    []string{"Verify the membership change was approved", "Review the privileges the group grants"},
	},
	7045: {
		EventType:  models.EventTypeServiceInstallation,
		Risk:       models.RiskLevelHigh,
		Confidence: 85,
		Summary:    "New service installed",
		Mitre:      []string{"T1543.003"},
		Actions:    []string{"Inspect the service binary path and signer", "Confirm the installing account had change authority"},
	},
	4104: {
		EventType:  models.EventTypePowerShellExecution,
		Risk:       models.RiskLevelMedium,
		Confidence: 80,
		Summary:    "PowerShell script block executed",
		Mitre:      []string{"T1059.001"},
		Actions:    []string{"Review the script block contents for obfuscation or download cradles"},
		Channel:    "Microsoft-Windows-PowerShell/Operational",
	},
	1102: {
		EventType:  models.EventTypeSuspiciousActivity,
		Risk:       models.RiskLevelHigh,
		Confidence: 90,
		Summary:    "Audit log was cleared",
		Mitre:      []string{"T1070.001"},
		Actions:    []string{"Treat as potential anti-forensics", "Identify the clearing account and preserve surrounding evidence"},
		Channel:    "Security",
	},
}

// lookupRule resolves an event against the table. Channel-qualified rules
// match their channel case-insensitively.
func lookupRule(ev models.LogEvent) (rule, bool) {
	r, ok := ruleTable[ev.EventID]
	if !ok {
		return rule{}, false
	}
	if r.Channel != "" && !strings.EqualFold(r.Channel, ev.Channel) {
		return rule{}, false
	}
	return r, true
}

// response renders the rule as a full classification for the given event,
// with host and account context appended to the canned summary.
func (r rule) response(ev models.LogEvent) models.LlmSecurityEventResponse {
	summary := fmt.Sprintf("%s on %s", r.Summary, ev.Host)
	if ev.User != "" {
		summary = fmt.Sprintf("%s (account %s)", summary, ev.User)
	}
	return models.LlmSecurityEventResponse{
		Risk:               r.Risk,
		Confidence:         r.Confidence,
		Summary:            summary,
		Mitre:              append([]string(nil), r.Mitre...),
		RecommendedActions: append([]string(nil), r.Actions...),
		EventType:          r.EventType,
	}
}
