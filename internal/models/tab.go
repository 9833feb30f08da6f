package models

import "time"

// TabID identifies a browser tab. Chrome target ids and extension tab ids are
// both carried as strings.
type TabID string

// Role is the part a tab plays in the workflow.
type Role string

const (
	RoleAssistant  Role = "ASSISTANT"
	RoleFinder     Role = "FINDER"
	RoleAnalyzer   Role = "ANALYZER"
	RoleFormFiller Role = "FORM_FILLER"
)

// ParseRole accepts the role names used on the wire. "GPT" is the name older
// content scripts use for the assistant tab.
func ParseRole(s string) (Role, bool) {
	switch s {
	case string(RoleAssistant), "GPT":
		return RoleAssistant, true
	case string(RoleFinder):
		return RoleFinder, true
	case string(RoleAnalyzer):
		return RoleAnalyzer, true
	case string(RoleFormFiller):
		return RoleFormFiller, true
	}
	return "", false
}

// ReportsJobStatus reports whether tabs of this role may report on the
// current job from a tab other than the active job tab.
func (r Role) ReportsJobStatus() bool {
	return r == RoleAnalyzer || r == RoleFormFiller
}

// Platform is a job site tag.
type Platform string

const (
	PlatformIndeed   Platform = "INDEED"
	PlatformLinkedIn Platform = "LINKEDIN"
)

// TabRegistration records which role a tab announced.
type TabRegistration struct {
	TabID        TabID     `json:"tabId"`
	Role         Role      `json:"role"`
	Platform     Platform  `json:"platform,omitempty"`
	RegisteredAt time.Time `json:"registeredAt"`
}
