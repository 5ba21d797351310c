package model

// Step names a visible screen of the onboarding flow.
type Step string

const (
	StepPersonalInfo      Step = "personal_info"
	StepEmailVerification Step = "email_verification"
	StepRoleSelection     Step = "role_selection"
	StepDocumentUpload    Step = "document_upload"
	StepPasswordSetup     Step = "password_setup"
	StepCompleted         Step = "completed"
	StepPendingApproval   Step = "pending_approval"
)

// Terminal reports whether the flow has finished.
func (s Step) Terminal() bool {
	return s == StepCompleted || s == StepPendingApproval
}
