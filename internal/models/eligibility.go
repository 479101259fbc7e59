package models

// IssueSeverity tags an eligibility issue.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// Issue codes emitted by the eligibility validator.
const (
	IssueCodeTooYoung           = "AGE_BELOW_MINIMUM"
	IssueCodeTooOld             = "AGE_ABOVE_MAXIMUM"
	IssueCodeVaccineMissing     = "VACCINE_MISSING"
	IssueCodeVaccineExpired     = "VACCINE_EXPIRED"
	IssueCodePrerequisite       = "PREREQUISITE_INCOMPLETE"
	IssueCodeBehaviorExclusion  = "BEHAVIOR_EXCLUSION"
	IssueCodeCourseInactive     = "COURSE_INACTIVE"
	IssueCodeVaccineExpiresSoon = "VACCINE_EXPIRES_SOON"
)

// EligibilityIssue is one finding from the eligibility validator.
type EligibilityIssue struct {
	Code     string        `json:"code"`
	Severity IssueSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// EligibilityResult aggregates all validator findings. Eligible is true iff
// no issue carries error severity.
type EligibilityResult struct {
	Eligible bool               `json:"eligible"`
	Issues   []EligibilityIssue `json:"issues"`
}
