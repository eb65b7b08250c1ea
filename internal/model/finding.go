package model

// Severity grades a finding. CRITICAL blocks approval outright.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityMajor    Severity = "MAJOR"
	SeverityMinor    Severity = "MINOR"
)

// Weight orders severities for sorted reporting (highest first).
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityMajor:
		return 2
	case SeverityMinor:
		return 1
	default:
		return 0
	}
}

// Inconsistency is a cross-source disagreement detected by the consistency
// validator. Pure data; converted into a NonConformity by the rules engine.
type Inconsistency struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Field    string   `json:"field"`
	Expected string   `json:"expected"`
	Found    string   `json:"found"`
	Message  string   `json:"message"`
}

// NonConformity is a single documented rule violation, including converted
// inconsistencies.
type NonConformity struct {
	Code             string   `json:"code"`
	Severity         Severity `json:"severity"`
	Description      string   `json:"description"`
	Evidence         string   `json:"evidence"`
	CorrectiveAction string   `json:"corrective_action"`
}

// Verdict is the final compliance decision for one analysis.
type Verdict string

const (
	VerdictApproved             Verdict = "APPROVED"
	VerdictApprovedWithComments Verdict = "APPROVED_WITH_COMMENTS"
	VerdictRejected             Verdict = "REJECTED"
)

// DeriveVerdict computes the verdict from a non-conformity list:
// any CRITICAL rejects; any MAJOR or MINOR approves with comments;
// an empty list approves. The verdict is never stored independently of
// the list it was derived from.
func DeriveVerdict(ncs []NonConformity) Verdict {
	verdict := VerdictApproved
	for _, nc := range ncs {
		if nc.Severity == SeverityCritical {
			return VerdictRejected
		}
		verdict = VerdictApprovedWithComments
	}
	return verdict
}
