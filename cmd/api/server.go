package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"collabflow/auth"
	"collabflow/collab"
	"collabflow/compensation"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "user_id"
	ctxKeyKind   ctxKey = "kind"
)

// CollabService is the lifecycle engine surface the handlers depend on.
type CollabService interface {
	Propose(ctx context.Context, params collab.ProposeParams) (*collab.Collaboration, error)
	Respond(ctx context.Context, id string, params collab.RespondParams) (*collab.Collaboration, error)
	Cancel(ctx context.Context, id string, params collab.CancelParams) (*collab.Collaboration, error)
	Activate(ctx context.Context, id string, params collab.ActorParams) (*collab.Collaboration, error)
	Complete(ctx context.Context, id string, params collab.CompleteParams) (*collab.Collaboration, error)
	ValidateStep(ctx context.Context, id string, params collab.ValidateStepParams) (*collab.Collaboration, error)
	UpdateContract(ctx context.Context, id string, params collab.UpdateContractParams) (*collab.Collaboration, error)
	Sign(ctx context.Context, id string, params collab.ActorParams) (*collab.Collaboration, error)
	Get(ctx context.Context, id string) (*collab.Collaboration, error)
	ListForUser(ctx context.Context, userID string, page, pageSize int) ([]collab.Collaboration, int, error)
	Payout(ctx context.Context, id string) (owner, collaborator compensation.Share, err error)
}

// AuthService is the identity surface the handlers depend on.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Kind, error)
}

type Server struct {
	authService   AuthService
	collabService CollabService
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)

	mux.Handle("GET /api/collaborations", s.withAuth(s.handleListCollaborations))
	mux.Handle("POST /api/collaborations", s.withAuth(s.handlePropose))
	mux.Handle("GET /api/collaborations/{id}", s.withAuth(s.handleGetCollaboration))
	mux.Handle("GET /api/collaborations/{id}/shares", s.withAuth(s.handleShares))
	mux.Handle("POST /api/collaborations/{id}/respond", s.withAuth(s.handleRespond))
	mux.Handle("POST /api/collaborations/{id}/cancel", s.withAuth(s.handleCancel))
	mux.Handle("POST /api/collaborations/{id}/activate", s.withAuth(s.handleActivate))
	mux.Handle("POST /api/collaborations/{id}/complete", s.withAuth(s.handleComplete))
	mux.Handle("POST /api/collaborations/{id}/steps/{stepId}/validate", s.withAuth(s.handleValidateStep))
	mux.Handle("PUT /api/collaborations/{id}/contract", s.withAuth(s.handleUpdateContract))
	mux.Handle("POST /api/collaborations/{id}/contract/sign", s.withAuth(s.handleSign))

	return mux
}

func (s *Server) withAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, kind, err := s.authService.VerifyToken(token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyKind, kind)
		next(w, r.WithContext(ctx))
	})
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeJSONError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, auth.ErrWeakPassword):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		default:
			writeJSONError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"email":    user.Email,
		"fullName": user.FullName,
		"kind":     user.Kind,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":       result.User.ID,
			"email":    result.User.Email,
			"fullName": result.User.FullName,
			"kind":     result.User.Kind,
		},
	})
}

type proposeRequest struct {
	PostReference string   `json:"postReference"`
	OwnerID       string   `json:"ownerId"`
	Scheme        string   `json:"scheme"`
	Percentage    *float64 `json:"percentage,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
	Message       string   `json:"message"`
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c, err := s.collabService.Propose(r.Context(), collab.ProposeParams{
		PostReference: req.PostReference,
		InitiatorID:   callerID(r),
		OwnerID:       req.OwnerID,
		Plan: compensation.Plan{
			Scheme:     compensation.Scheme(req.Scheme),
			Percentage: req.Percentage,
			Amount:     req.Amount,
		},
		Message: req.Message,
	})
	if err != nil {
		writeCollabError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCollaborationResponse(c))
}

type mutationRequest struct {
	Decision        string  `json:"decision,omitempty"`
	Reason          *string `json:"reason,omitempty"`
	Text            string  `json:"text,omitempty"`
	AdditionalTerms string  `json:"additionalTerms,omitempty"`
	Note            *string `json:"note,omitempty"`
	IfVersion       int64   `json:"ifVersion,omitempty"`
}

func decodeMutation(w http.ResponseWriter, r *http.Request) (mutationRequest, bool) {
	var req mutationRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return req, false
		}
	}
	return req, true
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutation(w, r)
	if !ok {
		return
	}
	c, err := s.collabService.Respond(r.Context(), r.PathValue("id"), collab.RespondParams{
		ActorParams: collab.ActorParams{ActorID: callerID(r), IfVersion: req.IfVersion},
		Decision:    collab.Status(req.Decision),
	})
	if err != nil {
		writeCollabError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollaborationResponse(c))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutation(w, r)
	if !ok {
		return
	}
	c, err := s.collabService.Cancel(r.Context(), r.PathValue("id"), collab.CancelParams{
		ActorParams: collab.ActorParams{ActorID: callerID(r), IfVersion: req.IfVersion},
		Reason:      req.Reason,
	})
	if err != nil {
		writeCollabError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollaborationResponse(c))
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutation(w, r)
	if !ok {
		return
	}
	c, err := s.collabService.Activate(r.Context(), r.PathValue("id"), collab.ActorParams{
		ActorID:   callerID(r),
		IfVersion: req.IfVersion,
	})
	if err != nil {
		writeCollabError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollaborationResponse(c))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutation(w, r)
	if !ok {
		return
	}
	reason := ""
	if req.Reason != nil {
		reason = *req.Reason
	}
	c, err := s.collabService.Complete(r.Context(), r.PathValue("id"), collab.CompleteParams{
		ActorParams: collab.ActorParams{ActorID: callerID(r), IfVersion: req.IfVersion},
		Reason:      collab.CompletionReason(reason),
	})
	if err != nil {
		writeCollabError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollaborationResponse(c))
}

func (s *Server) handleValidateStep(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutation(w, r)
	if !ok {
		return
	}
	c, err := s.collabService.ValidateStep(r.Context(), r.PathValue("id"), collab.ValidateStepParams{
		ActorParams: collab.ActorParams{ActorID: callerID(r), IfVersion: req.IfVersion},
		StepID:      collab.StepID(r.PathValue("stepId")),
		Note:        req.Note,
	})
	if err != nil {
		writeCollabError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollaborationResponse(c))
}

func (s *Server) handleUpdateContract(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutation(w, r)
	if !ok {
		return
	}
	c, err := s.collabService.UpdateContract(r.Context(), r.PathValue("id"), collab.UpdateContractParams{
		ActorParams:     collab.ActorParams{ActorID: callerID(r), IfVersion: req.IfVersion},
		Text:            req.Text,
		AdditionalTerms: req.AdditionalTerms,
	})
	if err != nil {
		writeCollabError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollaborationResponse(c))
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeMutation(w, r)
	if !ok {
		return
	}
	c, err := s.collabService.Sign(r.Context(), r.PathValue("id"), collab.ActorParams{
		ActorID:   callerID(r),
		IfVersion: req.IfVersion,
	})
	if err != nil {
		writeCollabError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollaborationResponse(c))
}

func (s *Server) handleGetCollaboration(w http.ResponseWriter, r *http.Request) {
	c, err := s.collabService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeCollabError(w, err)
		return
	}
	if c.RoleOf(callerID(r)) == collab.RoleNone {
		writeJSONError(w, http.StatusForbidden, "not a party to this collaboration")
		return
	}
	writeJSON(w, http.StatusOK, toCollaborationResponse(c))
}

type shareResponse struct {
	Party   string  `json:"party"`
	Unit    string  `json:"unit"`
	Value   float64 `json:"value"`
	Defined bool    `json:"defined"`
}

func toShareResponse(share compensation.Share) shareResponse {
	return shareResponse{
		Party:   string(share.Party),
		Unit:    string(share.Unit),
		Value:   share.Value,
		Defined: share.Defined,
	}
}

func (s *Server) handleShares(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := s.collabService.Get(r.Context(), id)
	if err != nil {
		writeCollabError(w, err)
		return
	}
	if c.RoleOf(callerID(r)) == collab.RoleNone {
		writeJSONError(w, http.StatusForbidden, "not a party to this collaboration")
		return
	}
	owner, collaborator, err := s.collabService.Payout(r.Context(), id)
	if err != nil {
		writeCollabError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":        toShareResponse(owner),
		"collaborator": toShareResponse(collaborator),
	})
}

func (s *Server) handleListCollaborations(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))

	items, total, err := s.collabService.ListForUser(r.Context(), callerID(r), page, pageSize)
	if err != nil {
		writeCollabError(w, err)
		return
	}
	out := make([]collaborationResponse, 0, len(items))
	for i := range items {
		out = append(out, *toCollaborationResponse(&items[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "total": total})
}

// --- responses -------------------------------------------------------------

type stepResponse struct {
	StepID                string         `json:"stepId"`
	OwnerValidated        bool           `json:"ownerValidated"`
	CollaboratorValidated bool           `json:"collaboratorValidated"`
	Completed             bool           `json:"completed"`
	ValidatedAt           *string        `json:"validatedAt,omitempty"`
	Notes                 []noteResponse `json:"notes,omitempty"`
}

type noteResponse struct {
	AuthorID  string `json:"authorId"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
}

type activityResponse struct {
	Seq       int            `json:"seq"`
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	ActorID   *string        `json:"actorId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

type contractResponse struct {
	Text                 string  `json:"text"`
	AdditionalTerms      string  `json:"additionalTerms"`
	OwnerSigned          bool    `json:"ownerSigned"`
	OwnerSignedAt        *string `json:"ownerSignedAt,omitempty"`
	CollaboratorSigned   bool    `json:"collaboratorSigned"`
	CollaboratorSignedAt *string `json:"collaboratorSignedAt,omitempty"`
	ModifiedSinceSigning bool    `json:"modifiedSinceSigning"`
}

type collaborationResponse struct {
	ID               string             `json:"id"`
	PostReference    string             `json:"postReference"`
	OwnerID          string             `json:"ownerId"`
	InitiatorID      string             `json:"initiatorId"`
	Status           string             `json:"status"`
	Scheme           string             `json:"scheme"`
	Percentage       *float64           `json:"percentage,omitempty"`
	Amount           *float64           `json:"amount,omitempty"`
	CurrentStep      string             `json:"currentStep"`
	Steps            []stepResponse     `json:"steps"`
	Contract         contractResponse   `json:"contract"`
	CompletionReason *string            `json:"completionReason,omitempty"`
	Activities       []activityResponse `json:"activities"`
	Version          int64              `json:"version"`
	CreatedAt        string             `json:"createdAt"`
	UpdatedAt        string             `json:"updatedAt"`
}

func toCollaborationResponse(c *collab.Collaboration) *collaborationResponse {
	resp := &collaborationResponse{
		ID:            c.ID,
		PostReference: c.PostReference,
		OwnerID:       c.OwnerID,
		InitiatorID:   c.InitiatorID,
		Status:        string(c.Status),
		Scheme:        string(c.Plan.Scheme),
		Percentage:    c.Plan.Percentage,
		Amount:        c.Plan.Amount,
		CurrentStep:   string(c.CurrentStep()),
		Contract: contractResponse{
			Text:                 c.Contract.Text,
			AdditionalTerms:      c.Contract.AdditionalTerms,
			OwnerSigned:          c.Contract.OwnerSigned,
			OwnerSignedAt:        fmtTime(c.Contract.OwnerSignedAt),
			CollaboratorSigned:   c.Contract.CollaboratorSigned,
			CollaboratorSignedAt: fmtTime(c.Contract.CollaboratorSignedAt),
			ModifiedSinceSigning: c.Contract.ModifiedSinceSigning,
		},
		Version:   c.Version,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
	if c.CompletionReason != nil {
		reason := string(*c.CompletionReason)
		resp.CompletionReason = &reason
	}
	for _, step := range c.Steps {
		sr := stepResponse{
			StepID:                string(step.ID),
			OwnerValidated:        step.OwnerValidated,
			CollaboratorValidated: step.CollaboratorValidated,
			Completed:             step.Completed,
			ValidatedAt:           fmtTime(step.ValidatedAt),
		}
		for _, note := range step.Notes {
			sr.Notes = append(sr.Notes, noteResponse{
				AuthorID:  note.AuthorID,
				Body:      note.Body,
				CreatedAt: note.CreatedAt.Format(time.RFC3339),
			})
		}
		resp.Steps = append(resp.Steps, sr)
	}
	for _, entry := range c.Activities {
		resp.Activities = append(resp.Activities, activityResponse{
			Seq:       entry.Seq,
			Kind:      string(entry.Kind),
			Message:   entry.Message,
			ActorID:   entry.ActorID,
			Payload:   entry.Payload,
			CreatedAt: entry.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp
}

func fmtTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// writeCollabError maps the error taxonomy onto HTTP statuses. Conflicts are
// retryable for clients; precondition and transition failures are actionable
// messages.
func writeCollabError(w http.ResponseWriter, err error) {
	kind := collab.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case collab.KindUnauthorized:
		status = http.StatusForbidden
	case collab.KindNotFound:
		status = http.StatusNotFound
	case collab.KindConflict, collab.KindAlreadyDone:
		status = http.StatusConflict
	case collab.KindInvalidTransition, collab.KindPreconditionFailed:
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		writeJSONError(w, status, "internal error")
		return
	}
	writeJSON(w, status, map[string]any{"error": err.Error(), "kind": string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
