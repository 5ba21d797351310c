// Package validate holds the synchronous field rules that gate each
// registration step. Failures are returned as apperr validation errors keyed
// by the JSON field name.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/chefsync/onboarding/internal/apperr"
)

var (
	phonePattern  = regexp.MustCompile(`^\+?1?\d{9,15}$`)
	digitsPattern = regexp.MustCompile(`^[0-9]+$`)
)

var rules = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("digits", func(fl validator.FieldLevel) bool {
		return digitsPattern.MatchString(fl.Field().String())
	})
	return v
}

type personalInfo struct {
	FirstName string `json:"first_name" validate:"required,min=2,max=100"`
	Email     string `json:"email" validate:"required,email,max=254"`
}

type emailOnly struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type passwordSetup struct {
	Password        string `json:"password" validate:"required,min=8,max=128"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
	Phone           string `json:"phone_no" validate:"omitempty,phone"`
}

type otpCode struct {
	Code string `json:"otp" validate:"required,len=6,digits"`
}

// PersonalInfo checks the first step: name and email.
func PersonalInfo(firstName, email string) error {
	return check(personalInfo{FirstName: strings.TrimSpace(firstName), Email: strings.TrimSpace(email)})
}

// Email checks a lone email address, as used by password reset.
func Email(email string) error {
	return check(emailOnly{Email: strings.TrimSpace(email)})
}

// Password checks the password step. Phone is optional.
func Password(password, confirm, phone string) error {
	return check(passwordSetup{Password: password, ConfirmPassword: confirm, Phone: strings.TrimSpace(phone)})
}

// OTPCode accepts exactly six ASCII digits.
func OTPCode(code string) error {
	return check(otpCode{Code: code})
}

func check(s any) error {
	err := rules.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}
	fields := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = append(fields[fe.Field()], describe(fe))
	}
	return apperr.Validation("", fields)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		if fe.Field() == "password" {
			return fmt.Sprintf("Password must be at least %s characters.", fe.Param())
		}
		return fmt.Sprintf("Must be at least %s characters.", fe.Param())
	case "max":
		return fmt.Sprintf("Must be at most %s characters.", fe.Param())
	case "eqfield":
		return "Passwords don't match."
	case "phone":
		return "Enter a valid phone number (9 to 15 digits, optional leading +)."
	case "len", "digits":
		return "Enter the 6-digit code from your email."
	default:
		return "Invalid value."
	}
}
