package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/chefsync/onboarding/internal/apperr"
	"github.com/chefsync/onboarding/internal/flow"
	"github.com/chefsync/onboarding/internal/intake"
	"github.com/chefsync/onboarding/internal/model"
	"github.com/chefsync/onboarding/internal/submit"
)

// registrationView is the registration plus what the client needs to render
// the current step.
type registrationView struct {
	Registration *model.Registration `json:"registration"`
	StepInfo     flow.StepInfo       `json:"step_info"`
	Steps        []model.Step        `json:"steps"`
	OTPExpiresIn int                 `json:"otp_expires_in"`
	CanResend    bool                `json:"can_resend"`
	CanContinue  bool                `json:"can_continue"`
	MissingTypes []string            `json:"missing_document_types,omitempty"`
	Token        string              `json:"token,omitempty"`
	Outcome      *submit.Outcome     `json:"outcome,omitempty"`
	Tokens       *model.Tokens       `json:"tokens,omitempty"`
}

func (s *Server) view(reg *model.Registration) *registrationView {
	v := &registrationView{
		Registration: reg,
		StepInfo:     flow.Describe(reg.Step, reg.Draft.Role),
		Steps:        flow.Steps(reg.Draft.Role),
	}
	switch reg.Step {
	case model.StepEmailVerification:
		v.OTPExpiresIn = reg.OTP.ExpiresInSeconds(s.now())
		v.CanResend = v.OTPExpiresIn == 0
	case model.StepDocumentUpload:
		for _, m := range intake.MissingRequired(reg.DocumentTypes, reg.Documents) {
			v.MissingTypes = append(v.MissingTypes, m.Name)
		}
		v.CanContinue = len(v.MissingTypes) == 0
	}
	return v
}

func (s *Server) handleRegistration(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		reg, err := s.flow.Get(r.Context(), id)
		if err != nil {
			s.respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, s.view(reg))
	case http.MethodDelete:
		if err := s.flow.Cancel(r.Context(), id); err != nil {
			s.respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.respondError(w, err)
		return
	}
	reg, err := s.flow.VerifyEmail(r.Context(), id, body.Code)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.view(reg))
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	reg, sent, err := s.flow.ResendCode(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !sent {
		wait := reg.OTP.ExpiresInSeconds(s.now())
		w.Header().Set("Retry-After", strconv.Itoa(wait))
		respondJSON(w, http.StatusConflict, errorResponse{
			Error:      fmt.Sprintf("You can request a new code in %d seconds.", wait),
			Kind:       "countdown",
			RetryAfter: wait,
		})
		return
	}
	respondJSON(w, http.StatusOK, s.view(reg))
}

func (s *Server) handleRole(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var body struct {
		Role model.Role `json:"role"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.respondError(w, err)
		return
	}
	reg, err := s.flow.ChooseRole(r.Context(), id, body.Role)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.view(reg))
}

// handleAddDocuments reads document_type_id and file parts in order. Each
// file belongs to the document_type_id field sent before it.
func (s *Server) handleAddDocuments(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		s.respondError(w, apperr.Validation("Expecting a multipart form.", nil))
		return
	}
	selections, err := readSelections(mr)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error: fmt.Sprintf("Upload exceeds the %d byte request limit.", tooBig.Limit),
				Kind:  apperr.KindValidation,
			})
			return
		}
		s.respondError(w, err)
		return
	}
	reg, err := s.flow.AddDocuments(r.Context(), id, selections)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.view(reg))
}

func readSelections(mr *multipart.Reader) ([]intake.Selection, error) {
	var (
		selections []intake.Selection
		typeID     int
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch part.FormName() {
		case "document_type_id":
			raw, err := io.ReadAll(io.LimitReader(part, 32))
			part.Close()
			if err != nil {
				return nil, err
			}
			typeID, err = strconv.Atoi(strings.TrimSpace(string(raw)))
			if err != nil {
				return nil, apperr.Validation("", map[string][]string{"document_type_id": {"Must be a number."}})
			}
		case "file":
			if typeID == 0 {
				part.Close()
				return nil, apperr.Validation("", map[string][]string{"document_type_id": {"Send document_type_id before each file."}})
			}
			data, err := io.ReadAll(part)
			part.Close()
			if err != nil {
				return nil, err
			}
			selections = append(selections, intake.Selection{
				DocumentTypeID: typeID,
				FileName:       part.FileName(),
				ContentType:    part.Header.Get("Content-Type"),
				Data:           data,
			})
		default:
			part.Close()
		}
	}
	if len(selections) == 0 {
		return nil, apperr.Validation("", map[string][]string{"file": {"Select at least one file."}})
	}
	return selections, nil
}

func (s *Server) handleRemoveDocument(w http.ResponseWriter, r *http.Request, id, documentID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	reg, err := s.flow.RemoveDocument(r.Context(), id, documentID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.view(reg))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request, id, documentID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	reg, err := s.flow.RetryDocument(r.Context(), id, documentID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.view(reg))
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	reg, err := s.flow.ContinueFromDocuments(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.view(reg))
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	reg, err := s.flow.Back(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.view(reg))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body struct {
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirm_password"`
		Phone           string `json:"phone_no"`
		Address         string `json:"address"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.respondError(w, err)
		return
	}
	reg, outcome, err := s.flow.Complete(r.Context(), id, flow.PasswordInput{
		Password:        body.Password,
		ConfirmPassword: body.ConfirmPassword,
		Phone:           body.Phone,
		Address:         body.Address,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	view := s.view(reg)
	view.Outcome = outcome
	view.Tokens = reg.Tokens
	respondJSON(w, http.StatusOK, view)
}
