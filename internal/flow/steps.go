package flow

import "github.com/chefsync/onboarding/internal/model"

// StepInfo is the header shown above a step.
type StepInfo struct {
	Step        model.Step `json:"step"`
	Number      int        `json:"number"`
	Total       int        `json:"total"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
}

// Steps lists the numbered steps for role. The document step only appears
// for roles that upload documents.
func Steps(role model.Role) []model.Step {
	steps := []model.Step{model.StepPersonalInfo, model.StepEmailVerification, model.StepRoleSelection}
	if role.RequiresDocuments() {
		steps = append(steps, model.StepDocumentUpload)
	}
	return append(steps, model.StepPasswordSetup)
}

// Describe computes the header for step.
func Describe(step model.Step, role model.Role) StepInfo {
	steps := Steps(role)
	info := StepInfo{Step: step, Total: len(steps), Number: len(steps)}
	for i, s := range steps {
		if s == step {
			info.Number = i + 1
			break
		}
	}

	switch step {
	case model.StepPersonalInfo:
		info.Title = "Personal Information"
		info.Description = "Tell us your name and email address."
	case model.StepEmailVerification:
		info.Title = "Verify Your Email"
		info.Description = "Enter the 6-digit code we sent to your email."
	case model.StepRoleSelection:
		info.Title = "Choose Your Role"
		info.Description = "Order food, cook for the community or deliver orders."
	case model.StepDocumentUpload:
		info.Title = "Upload Documents"
		switch role {
		case model.RoleCook:
			info.Description = "Upload your food safety and health certificates and photos of your kitchen."
		default:
			info.Description = "Upload your driving license, vehicle registration and insurance."
		}
	case model.StepPasswordSetup:
		info.Title = "Create Password"
		info.Description = "Choose a secure password for your account."
	case model.StepCompleted:
		info.Title = "Welcome to ChefSync"
		info.Description = "Your account is ready."
	case model.StepPendingApproval:
		info.Title = "Application Submitted"
		info.Description = "Your documents are under review. We'll email you once your account is approved."
	}
	return info
}

// previous returns the step Back leads to, if any.
func previous(step model.Step, role model.Role) (model.Step, bool) {
	switch step {
	case model.StepDocumentUpload:
		return model.StepRoleSelection, true
	case model.StepPasswordSetup:
		if role.RequiresDocuments() {
			return model.StepDocumentUpload, true
		}
		return model.StepRoleSelection, true
	}
	return "", false
}
