package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"collabflow/auth"
	"collabflow/collab"
	"collabflow/compensation"
)

type stubAuthService struct {
	registerUser *auth.User
	registerErr  error
	loginResult  auth.LoginResult
	loginErr     error
	verifyUserID string
	verifyKind   auth.Kind
	verifyErr    error
}

func (s *stubAuthService) Register(_ context.Context, _ auth.RegisterRequest) (*auth.User, error) {
	return s.registerUser, s.registerErr
}

func (s *stubAuthService) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return s.loginResult, s.loginErr
}

func (s *stubAuthService) VerifyToken(_ string) (string, auth.Kind, error) {
	return s.verifyUserID, s.verifyKind, s.verifyErr
}

type stubCollabService struct {
	result    *collab.Collaboration
	err       error
	listItems []collab.Collaboration
	listTotal int
	listErr   error

	ownerShare  compensation.Share
	collabShare compensation.Share

	lastPropose collab.ProposeParams
	lastID      string
	lastActor   collab.ActorParams
}

func (s *stubCollabService) Propose(_ context.Context, params collab.ProposeParams) (*collab.Collaboration, error) {
	s.lastPropose = params
	return s.result, s.err
}

func (s *stubCollabService) Respond(_ context.Context, id string, params collab.RespondParams) (*collab.Collaboration, error) {
	s.lastID, s.lastActor = id, params.ActorParams
	return s.result, s.err
}

func (s *stubCollabService) Cancel(_ context.Context, id string, params collab.CancelParams) (*collab.Collaboration, error) {
	s.lastID, s.lastActor = id, params.ActorParams
	return s.result, s.err
}

func (s *stubCollabService) Activate(_ context.Context, id string, params collab.ActorParams) (*collab.Collaboration, error) {
	s.lastID, s.lastActor = id, params
	return s.result, s.err
}

func (s *stubCollabService) Complete(_ context.Context, id string, params collab.CompleteParams) (*collab.Collaboration, error) {
	s.lastID, s.lastActor = id, params.ActorParams
	return s.result, s.err
}

func (s *stubCollabService) ValidateStep(_ context.Context, id string, params collab.ValidateStepParams) (*collab.Collaboration, error) {
	s.lastID, s.lastActor = id, params.ActorParams
	return s.result, s.err
}

func (s *stubCollabService) UpdateContract(_ context.Context, id string, params collab.UpdateContractParams) (*collab.Collaboration, error) {
	s.lastID, s.lastActor = id, params.ActorParams
	return s.result, s.err
}

func (s *stubCollabService) Sign(_ context.Context, id string, params collab.ActorParams) (*collab.Collaboration, error) {
	s.lastID, s.lastActor = id, params
	return s.result, s.err
}

func (s *stubCollabService) Get(_ context.Context, id string) (*collab.Collaboration, error) {
	s.lastID = id
	return s.result, s.err
}

func (s *stubCollabService) ListForUser(_ context.Context, _ string, _, _ int) ([]collab.Collaboration, int, error) {
	return s.listItems, s.listTotal, s.listErr
}

func (s *stubCollabService) Payout(_ context.Context, id string) (compensation.Share, compensation.Share, error) {
	s.lastID = id
	return s.ownerShare, s.collabShare, s.err
}

func pendingCollab(now time.Time) *collab.Collaboration {
	pct := 30.0
	steps := make([]collab.ProgressStep, 0, len(collab.CanonicalSteps()))
	for _, id := range collab.CanonicalSteps() {
		steps = append(steps, collab.ProgressStep{ID: id})
	}
	return &collab.Collaboration{
		ID:            "c1",
		PostReference: "AN-1042",
		OwnerID:       "owner-1",
		InitiatorID:   "collab-1",
		Status:        collab.StatusPending,
		Plan: compensation.Plan{
			Scheme:     compensation.SchemePercentage,
			Percentage: &pct,
		},
		Steps:     steps,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func authed(req *http.Request, userID string) *http.Request {
	ctx := context.WithValue(req.Context(), ctxKeyUserID, userID)
	ctx = context.WithValue(ctx, ctxKeyKind, auth.KindAgent)
	return req.WithContext(ctx)
}

func TestHandlePropose_Success(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	service := &stubCollabService{result: pendingCollab(now)}
	server := &Server{collabService: service}

	body := strings.NewReader(`{"postReference":"AN-1042","ownerId":"owner-1","scheme":"percentage","percentage":30,"message":"interested buyer"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/collaborations", body), "collab-1")
	rec := httptest.NewRecorder()

	server.handlePropose(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp collaborationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "c1" || resp.Status != "pending" || resp.Version != 1 {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if len(resp.Steps) != 10 {
		t.Fatalf("expected 10 seeded steps, got %d", len(resp.Steps))
	}
	if resp.CurrentStep != "accord_collaboration" {
		t.Fatalf("expected first canonical step, got %s", resp.CurrentStep)
	}
	if service.lastPropose.InitiatorID != "collab-1" {
		t.Fatalf("expected initiator from auth context, got %q", service.lastPropose.InitiatorID)
	}
}

func TestHandlePropose_InvalidBody(t *testing.T) {
	server := &Server{collabService: &stubCollabService{}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/collaborations", strings.NewReader("{")), "collab-1")
	rec := httptest.NewRecorder()

	server.handlePropose(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlePropose_PreconditionFailed(t *testing.T) {
	server := &Server{collabService: &stubCollabService{
		err: &collab.Error{Kind: collab.KindPreconditionFailed},
	}}

	body := strings.NewReader(`{"postReference":"ghost","ownerId":"owner-1","scheme":"percentage","percentage":30}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/collaborations", body), "collab-1")
	rec := httptest.NewRecorder()

	server.handlePropose(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestHandleRespond_Success(t *testing.T) {
	now := time.Now().UTC()
	accepted := pendingCollab(now)
	accepted.Status = collab.StatusAccepted
	accepted.Version = 2
	service := &stubCollabService{result: accepted}
	server := &Server{collabService: service}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/collaborations/c1/respond",
		strings.NewReader(`{"decision":"accepted","ifVersion":1}`)), "owner-1")
	req.SetPathValue("id", "c1")
	rec := httptest.NewRecorder()

	server.handleRespond(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if service.lastID != "c1" || service.lastActor.ActorID != "owner-1" || service.lastActor.IfVersion != 1 {
		t.Fatalf("unexpected call: id=%q actor=%+v", service.lastID, service.lastActor)
	}

	var resp collaborationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "accepted" || resp.Version != 2 {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleRespond_StaleVersionConflict(t *testing.T) {
	server := &Server{collabService: &stubCollabService{
		err: &collab.Error{Kind: collab.KindConflict},
	}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/collaborations/c1/respond",
		strings.NewReader(`{"decision":"accepted","ifVersion":1}`)), "owner-1")
	req.SetPathValue("id", "c1")
	rec := httptest.NewRecorder()

	server.handleRespond(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleValidateStep_Unauthorized(t *testing.T) {
	server := &Server{collabService: &stubCollabService{
		err: &collab.Error{Kind: collab.KindUnauthorized},
	}}

	req := authed(httptest.NewRequest(http.MethodPost,
		"/api/collaborations/c1/steps/premier_contact/validate", nil), "outsider-1")
	req.SetPathValue("id", "c1")
	req.SetPathValue("stepId", "premier_contact")
	rec := httptest.NewRecorder()

	server.handleValidateStep(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleSign_AlreadyDone(t *testing.T) {
	server := &Server{collabService: &stubCollabService{
		err: &collab.Error{Kind: collab.KindAlreadyDone},
	}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/collaborations/c1/contract/sign", nil), "owner-1")
	req.SetPathValue("id", "c1")
	rec := httptest.NewRecorder()

	server.handleSign(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleComplete_InvalidTransition(t *testing.T) {
	server := &Server{collabService: &stubCollabService{
		err: &collab.Error{Kind: collab.KindInvalidTransition},
	}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/collaborations/c1/complete",
		strings.NewReader(`{"reason":"vente_conclue_collaboration"}`)), "owner-1")
	req.SetPathValue("id", "c1")
	rec := httptest.NewRecorder()

	server.handleComplete(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestHandleGetCollaboration_NotParty(t *testing.T) {
	server := &Server{collabService: &stubCollabService{result: pendingCollab(time.Now().UTC())}}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/collaborations/c1", nil), "outsider-1")
	req.SetPathValue("id", "c1")
	rec := httptest.NewRecorder()

	server.handleGetCollaboration(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleGetCollaboration_NotFound(t *testing.T) {
	server := &Server{collabService: &stubCollabService{
		err: &collab.Error{Kind: collab.KindNotFound},
	}}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/collaborations/missing", nil), "owner-1")
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()

	server.handleGetCollaboration(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleListCollaborations_Success(t *testing.T) {
	now := time.Now().UTC()
	server := &Server{collabService: &stubCollabService{
		listItems: []collab.Collaboration{*pendingCollab(now)},
		listTotal: 1,
	}}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/collaborations?page=1&pageSize=20", nil), "owner-1")
	rec := httptest.NewRecorder()

	server.handleListCollaborations(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Items []collaborationResponse `json:"items"`
		Total int                     `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Total != 1 || payload.Items[0].ID != "c1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleShares_Success(t *testing.T) {
	server := &Server{collabService: &stubCollabService{
		result:      pendingCollab(time.Now().UTC()),
		ownerShare:  compensation.Share{Party: compensation.PartyOwner, Unit: compensation.UnitAmount, Value: 140000, Defined: true},
		collabShare: compensation.Share{Party: compensation.PartyCollaborator, Unit: compensation.UnitAmount, Value: 60000, Defined: true},
	}}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/collaborations/c1/shares", nil), "owner-1")
	req.SetPathValue("id", "c1")
	rec := httptest.NewRecorder()

	server.handleShares(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Owner        shareResponse `json:"owner"`
		Collaborator shareResponse `json:"collaborator"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Owner.Value != 140000 || payload.Collaborator.Value != 60000 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestWithAuth_MissingToken(t *testing.T) {
	server := &Server{
		authService:   &stubAuthService{},
		collabService: &stubCollabService{},
	}
	handler := server.routes()

	req := httptest.NewRequest(http.MethodGet, "/api/collaborations", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWithAuth_ValidToken(t *testing.T) {
	server := &Server{
		authService: &stubAuthService{verifyUserID: "owner-1", verifyKind: auth.KindAgent},
		collabService: &stubCollabService{
			listItems: nil,
			listTotal: 0,
		},
	}
	handler := server.routes()

	req := httptest.NewRequest(http.MethodGet, "/api/collaborations", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	server := &Server{authService: &stubAuthService{loginErr: auth.ErrInvalidCredentials}}

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"email":"a@b.fr","password":"nope"}`))
	rec := httptest.NewRecorder()

	server.handleLogin(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleRegister_WeakPassword(t *testing.T) {
	server := &Server{authService: &stubAuthService{registerErr: auth.ErrWeakPassword}}

	req := httptest.NewRequest(http.MethodPost, "/api/register",
		strings.NewReader(`{"email":"a@b.fr","full_name":"A B","password":"short"}`))
	rec := httptest.NewRecorder()

	server.handleRegister(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
