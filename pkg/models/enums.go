package models

// RiskLevel defines the severity assigned to a security event.
type RiskLevel string

const (
	// RiskLevelLow is informational or expected activity.
	RiskLevelLow RiskLevel = "low"
	// RiskLevelMedium warrants review but not immediate action.
	RiskLevelMedium RiskLevel = "medium"
	// RiskLevelHigh indicates likely malicious or policy-violating activity.
	RiskLevelHigh RiskLevel = "high"
	// RiskLevelCritical indicates confirmed or high-impact activity.
	RiskLevelCritical RiskLevel = "critical"
)

// IsValid checks if the risk level is valid.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical:
		return true
	default:
		return false
	}
}

// Score maps a risk level to a fixed weight used by hybrid re-ranking.
// Unknown levels score 0.1.
func (r RiskLevel) Score() float64 {
	switch r {
	case RiskLevelCritical:
		return 1.0
	case RiskLevelHigh:
		return 0.75
	case RiskLevelMedium:
		return 0.5
	case RiskLevelLow:
		return 0.25
	default:
		return 0.1
	}
}

// SecurityEventType is the closed taxonomy of event classifications.
type SecurityEventType string

const (
	EventTypeAuthenticationSuccess SecurityEventType = "AuthenticationSuccess"
	EventTypeAuthenticationFailure SecurityEventType = "AuthenticationFailure"
	EventTypeAccountManagement     SecurityEventType = "AccountManagement"
	EventTypePrivilegeEscalation   SecurityEventType = "PrivilegeEscalation"
	EventTypeServiceInstallation   SecurityEventType = "ServiceInstallation"
	EventTypeScheduledTask         SecurityEventType = "ScheduledTask"
	EventTypeProcessCreation       SecurityEventType = "ProcessCreation"
	EventTypePowerShellExecution   SecurityEventType = "PowerShellExecution"
	EventTypeBurstActivity         SecurityEventType = "BurstActivity"
	EventTypeCorrelatedActivity    SecurityEventType = "CorrelatedActivity"
	EventTypeAnomalousActivity     SecurityEventType = "AnomalousActivity"
	EventTypeSuspiciousActivity    SecurityEventType = "SuspiciousActivity"
	EventTypeUnknown               SecurityEventType = "Unknown"
)

// IsValid checks if the event type belongs to the taxonomy.
func (t SecurityEventType) IsValid() bool {
	switch t {
	case EventTypeAuthenticationSuccess,
		EventTypeAuthenticationFailure,
		EventTypeAccountManagement,
		EventTypePrivilegeEscalation,
		EventTypeServiceInstallation,
		EventTypeScheduledTask,
		EventTypeProcessCreation,
		EventTypePowerShellExecution,
		EventTypeBurstActivity,
		EventTypeCorrelatedActivity,
		EventTypeAnomalousActivity,
		EventTypeSuspiciousActivity,
		EventTypeUnknown:
		return true
	default:
		return false
	}
}

// CorrelationType classifies multi-event detections for alert throttling.
type CorrelationType string

const (
	CorrelationTypeAttackChain         CorrelationType = "attackChain"
	CorrelationTypeLateralMovement     CorrelationType = "lateralMovement"
	CorrelationTypePrivilegeEscalation CorrelationType = "privilegeEscalation"
	CorrelationTypeTemporalBurst       CorrelationType = "temporalBurst"
	CorrelationTypeMLDetected          CorrelationType = "mlDetected"
)

// IsValid checks if the correlation type is valid.
func (t CorrelationType) IsValid() bool {
	switch t {
	case CorrelationTypeAttackChain,
		CorrelationTypeLateralMovement,
		CorrelationTypePrivilegeEscalation,
		CorrelationTypeTemporalBurst,
		CorrelationTypeMLDetected:
		return true
	default:
		return false
	}
}
