// Package model contains the onboarding structs shared across packages.
package model

import (
	"time"
)

// Role is the account type chosen during registration.
type Role string

const (
	RoleCustomer      Role = "customer"
	RoleCook          Role = "cook"
	RoleDeliveryAgent Role = "delivery_agent"
)

// Valid reports whether r is one of the three self-service roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleCook, RoleDeliveryAgent:
		return true
	}
	return false
}

// RequiresDocuments reports whether the role goes through document upload and
// admin approval.
func (r Role) RequiresDocuments() bool {
	return r == RoleCook || r == RoleDeliveryAgent
}

// Purpose tags a verification code with the flow that requested it.
type Purpose string

const (
	PurposeRegistration  Purpose = "registration"
	PurposePasswordReset Purpose = "password_reset"
)

// Draft collects the fields entered across the registration steps.
type Draft struct {
	FirstName       string `json:"first_name"`
	Email           string `json:"email"`
	Role            Role   `json:"role,omitempty"`
	Password        string `json:"-"`
	ConfirmPassword string `json:"-"`
	Phone           string `json:"phone,omitempty"`
	Address         string `json:"address,omitempty"`
}

// Tokens are the credentials issued by the backend for an active account.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Registration is one onboarding flow instance. Documents are kept in
// selection order; Position records that order for persistent stores.
type Registration struct {
	ID            string         `json:"id"`
	Draft         Draft          `json:"draft"`
	OTP           OTPSession     `json:"otp"`
	Step          Step           `json:"step"`
	DocumentTypes []DocumentType `json:"document_types,omitempty"`
	Documents     []Document     `json:"documents,omitempty"`
	Tokens        *Tokens        `json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Document returns a pointer to the document with the given id.
func (r *Registration) Document(id string) (*Document, bool) {
	for i := range r.Documents {
		if r.Documents[i].ID == id {
			return &r.Documents[i], true
		}
	}
	return nil, false
}

// DocumentType returns the requirement with the given id.
func (r *Registration) DocumentType(id int) (DocumentType, bool) {
	for _, t := range r.DocumentTypes {
		if t.ID == id {
			return t, true
		}
	}
	return DocumentType{}, false
}

// NextPosition returns the position for a newly selected document.
func (r *Registration) NextPosition() int {
	next := 0
	for _, d := range r.Documents {
		if d.Position >= next {
			next = d.Position + 1
		}
	}
	return next
}
