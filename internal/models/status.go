package models

// IncidentStatus is a state in the incident lifecycle.
type IncidentStatus string

const (
	StatusDetected    IncidentStatus = "DETECTED"
	StatusDiagnosing  IncidentStatus = "DIAGNOSING"
	StatusFixing      IncidentStatus = "FIXING"
	StatusDeploying   IncidentStatus = "DEPLOYING"
	StatusResolved    IncidentStatus = "RESOLVED"
	StatusRolledBack  IncidentStatus = "ROLLED_BACK"
	StatusFailed      IncidentStatus = "FAILED"
	StatusHumanReview IncidentStatus = "HUMAN_REVIEW"
)

var transitions = map[IncidentStatus][]IncidentStatus{
	StatusDetected:    {StatusDiagnosing, StatusHumanReview, StatusFailed},
	StatusDiagnosing:  {StatusFixing, StatusHumanReview, StatusDetected, StatusFailed},
	StatusFixing:      {StatusDeploying, StatusHumanReview, StatusDetected, StatusFailed},
	StatusDeploying:   {StatusResolved, StatusRolledBack, StatusFailed},
	StatusHumanReview: {StatusDetected, StatusFailed},
}

// Terminal reports whether no further transition may leave s.
func (s IncidentStatus) Terminal() bool {
	switch s {
	case StatusResolved, StatusRolledBack, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s IncidentStatus) Valid() bool {
	switch s {
	case StatusDetected, StatusDiagnosing, StatusFixing, StatusDeploying,
		StatusResolved, StatusRolledBack, StatusFailed, StatusHumanReview:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
// The edges back to DETECTED exist only for the legacy escalation mode.
func CanTransition(from, to IncidentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidPath reports whether a recorded status sequence follows the lifecycle graph.
func ValidPath(path []IncidentStatus) bool {
	for i := 1; i < len(path); i++ {
		if !CanTransition(path[i-1], path[i]) {
			return false
		}
	}
	return true
}
