// internal/api/app_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	apperrors "merchant-onboarding/internal/common/errors"
	"merchant-onboarding/internal/common/logger"
	"merchant-onboarding/internal/models"
	"merchant-onboarding/internal/onboarding/sequencer"
	"merchant-onboarding/internal/onboarding/service"
	"merchant-onboarding/internal/onboarding/wizard"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Service Implementation
// ==========================

type MockService struct {
	mock.Mock
}

func (m *MockService) Start(ctx context.Context, actor sequencer.Actor, req service.StartRequest) (*wizard.View, error) {
	args := m.Called(ctx, actor, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wizard.View), args.Error(1)
}

func (m *MockService) Get(ctx context.Context, actor sequencer.Actor, id string) (*wizard.View, error) {
	args := m.Called(ctx, actor, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wizard.View), args.Error(1)
}

func (m *MockService) SelectCustomerType(ctx context.Context, actor sequencer.Actor, id, customerType string) (*service.Outcome, error) {
	args := m.Called(ctx, actor, id, customerType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Outcome), args.Error(1)
}

func (m *MockService) SubmitStep(ctx context.Context, actor sequencer.Actor, id, step string, in wizard.Input) (*service.Outcome, error) {
	args := m.Called(ctx, actor, id, step, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Outcome), args.Error(1)
}

func (m *MockService) Back(ctx context.Context, actor sequencer.Actor, id string) (*service.Outcome, error) {
	args := m.Called(ctx, actor, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Outcome), args.Error(1)
}

func (m *MockService) Submit(ctx context.Context, actor sequencer.Actor, id string) (*service.Outcome, error) {
	args := m.Called(ctx, actor, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Outcome), args.Error(1)
}

func (m *MockService) Cancel(ctx context.Context, actor sequencer.Actor, id string) error {
	return m.Called(ctx, actor, id).Error(0)
}

func (m *MockService) ListFranchises(ctx context.Context, query string) ([]models.FranchiseOption, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.FranchiseOption), args.Error(1)
}

// ==========================
// Test Helpers
// ==========================

var (
	admin     = sequencer.Actor{UserType: sequencer.UserTypeAdmin}
	franchise = sequencer.Actor{UserType: sequencer.UserTypeFranchise, FranchiseID: "fr-42"}
)

func setupApp(t *testing.T, checks map[string]Check) (*fiber.App, *MockService) {
	svc := &MockService{}
	app := New(&Config{
		BodyLimit:        4 << 20,
		MaxDocumentBytes: 16,
		ReadinessChecks:  checks,
	}, svc, logger.NewTestLogger(t))
	return app, svc
}

func jsonRequest(method, path, body string, actor sequencer.Actor) *http.Request {
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderUserType, actor.UserType)
	if actor.FranchiseID != "" {
		req.Header.Set(HeaderFranchiseID, actor.FranchiseID)
	}
	return req
}

func decodeError(t *testing.T, resp *http.Response) *apperrors.StandardError {
	t.Helper()
	var body ErrorRes
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Error)
	return body.Error
}

func sampleView(step sequencer.StepKind, index int) *wizard.View {
	return &wizard.View{
		ID:          "sess-1",
		Status:      wizard.StatusActive,
		Steps:       []sequencer.StepKind{sequencer.StepBasic, sequencer.StepContact, sequencer.StepBank, sequencer.StepDocuments},
		Index:       index,
		CurrentStep: step,
		TotalSteps:  4,
		Fields:      map[string]interface{}{},
	}
}

// ==========================
// Ops endpoints
// ==========================

func TestHealthAndReady(t *testing.T) {
	app, _ := setupApp(t, map[string]Check{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return stderrors.New("connection refused") },
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "ok", body.Checks["redis"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

// ==========================
// Actor middleware
// ==========================

func TestActorMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		userType    string
		franchiseID string
		status      int
	}{
		{name: "missing user type", status: fiber.StatusBadRequest},
		{name: "unknown user type", userType: "guest", status: fiber.StatusBadRequest},
		{name: "franchise without id", userType: "franchise", status: fiber.StatusBadRequest},
		{name: "admin", userType: "admin", franchiseID: "ignored", status: fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, svc := setupApp(t, nil)
			svc.On("ListFranchises", mock.Anything, "").Return([]models.FranchiseOption{}, nil).Maybe()

			req := httptest.NewRequest(http.MethodGet, "/v1/onboarding/franchises", nil)
			if tt.userType != "" {
				req.Header.Set(HeaderUserType, tt.userType)
			}
			if tt.franchiseID != "" {
				req.Header.Set(HeaderFranchiseID, tt.franchiseID)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

// ==========================
// Session routes
// ==========================

func TestStartSession(t *testing.T) {
	app, svc := setupApp(t, nil)
	svc.On("Start", mock.Anything, franchise, service.StartRequest{Mode: "create"}).
		Return(sampleView(sequencer.StepBasic, 1), nil).Once()

	resp, err := app.Test(jsonRequest(http.MethodPost, "/v1/onboarding/sessions", `{"mode":"create"}`, franchise))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var view wizard.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "sess-1", view.ID)
	assert.Equal(t, sequencer.StepBasic, view.CurrentStep)
	svc.AssertExpectations(t)
}

func TestSubmitStepJSON(t *testing.T) {
	app, svc := setupApp(t, nil)
	svc.On("SubmitStep", mock.Anything, franchise, "sess-1", "basic",
		mock.MatchedBy(func(in wizard.Input) bool {
			return in.Fields["businessName"] == "Chai Point" && len(in.Documents) == 0
		}),
	).Return(&service.Outcome{Session: *sampleView(sequencer.StepContact, 2), Moved: true}, nil).Once()

	resp, err := app.Test(jsonRequest(http.MethodPost, "/v1/onboarding/sessions/sess-1/steps/basic",
		`{"businessName":"Chai Point"}`, franchise))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out service.Outcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Moved)
	assert.Equal(t, 2, out.Session.Index)
}

func TestSubmitStepMultipart(t *testing.T) {
	app, svc := setupApp(t, nil)
	svc.On("SubmitStep", mock.Anything, franchise, "sess-1", "documents",
		mock.MatchedBy(func(in wizard.Input) bool {
			if len(in.Documents) != 2 || in.Fields["note"] != "scan" {
				return false
			}
			addr, pan := in.Documents[0], in.Documents[1]
			return addr.Field == wizard.DocAddressProof && addr.Data == nil && addr.Size > 16 &&
				pan.Field == wizard.DocPANCard && string(pan.Data) == "%PDF" &&
				pan.ContentType == "application/pdf" && pan.FileName == "pan.pdf"
		}),
	).Return(&service.Outcome{Session: *sampleView(sequencer.StepDocuments, 4)}, nil).Once()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("note", "scan"))

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="panCard"; filename="pan.pdf"`)
	h.Set("Content-Type", "application/pdf")
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, _ = part.Write([]byte("%PDF"))

	h = make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="addressProof"; filename="addr.png"`)
	h.Set("Content-Type", "image/png")
	part, err = w.CreatePart(h)
	require.NoError(t, err)
	_, _ = part.Write(bytes.Repeat([]byte("x"), 64))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/onboarding/sessions/sess-1/steps/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set(HeaderUserType, franchise.UserType)
	req.Header.Set(HeaderFranchiseID, franchise.FranchiseID)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	svc.AssertExpectations(t)
}

func TestSelectCustomerType(t *testing.T) {
	app, svc := setupApp(t, nil)
	svc.On("SelectCustomerType", mock.Anything, admin, "sess-1", "merchant").
		Return(&service.Outcome{Session: *sampleView(sequencer.StepFranchise, 2), Moved: true}, nil).Once()

	resp, err := app.Test(jsonRequest(http.MethodPost, "/v1/onboarding/sessions/sess-1/customer-type",
		`{"customerType":"merchant"}`, admin))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	svc.AssertExpectations(t)
}

func TestBackSubmitCancel(t *testing.T) {
	app, svc := setupApp(t, nil)
	svc.On("Back", mock.Anything, admin, "sess-1").
		Return(&service.Outcome{Session: *sampleView(sequencer.StepBasic, 1)}, nil).Once()
	svc.On("Submit", mock.Anything, admin, "sess-1").
		Return(&service.Outcome{Submitted: true, Session: *sampleView(sequencer.StepComplete, 4)}, nil).Once()
	svc.On("Cancel", mock.Anything, admin, "sess-1").Return(nil).Once()

	resp, err := app.Test(jsonRequest(http.MethodPost, "/v1/onboarding/sessions/sess-1/back", "", admin))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(jsonRequest(http.MethodPost, "/v1/onboarding/sessions/sess-1/submit", "", admin))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(jsonRequest(http.MethodDelete, "/v1/onboarding/sessions/sess-1", "", admin))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	svc.AssertExpectations(t)
}

func TestListFranchises(t *testing.T) {
	app, svc := setupApp(t, nil)
	svc.On("ListFranchises", mock.Anything, "chai").
		Return([]models.FranchiseOption{{ID: "fr-7", DisplayName: "Chai Point"}}, nil).Once()

	resp, err := app.Test(jsonRequest(http.MethodGet, "/v1/onboarding/franchises?q=chai", "", admin))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Data []models.FranchiseOption `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "fr-7", body.Data[0].ID)
}

// ==========================
// Error mapping
// ==========================

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "validation", err: apperrors.NewValidationFailedError("basic", []apperrors.FieldError{{Field: "businessName", Code: "MIN_LENGTH_VIOLATION"}}), status: fiber.StatusUnprocessableEntity},
		{name: "not found", err: apperrors.NewSessionNotFoundError("sess-1"), status: fiber.StatusNotFound},
		{name: "step mismatch", err: apperrors.NewStepMismatchError("basic", "bank"), status: fiber.StatusBadRequest},
		{name: "in flight", err: apperrors.NewSubmissionInFlightError("sess-1"), status: fiber.StatusConflict},
		{name: "backend rejected", err: apperrors.NewSubmissionFailedError(400, "duplicate gst"), status: fiber.StatusBadGateway},
		{name: "backend timeout", err: apperrors.NewBackendTimeoutError(stderrors.New("deadline")), status: fiber.StatusGatewayTimeout},
		{name: "plain error", err: stderrors.New("boom"), status: fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, svc := setupApp(t, nil)
			svc.On("Get", mock.Anything, admin, "sess-1").Return(nil, tt.err).Once()

			resp, err := app.Test(jsonRequest(http.MethodGet, "/v1/onboarding/sessions/sess-1", "", admin))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			stdErr := decodeError(t, resp)
			assert.Equal(t, apperrors.Normalize(tt.err).Code, stdErr.Code)
		})
	}
}

func TestValidationErrorCarriesFields(t *testing.T) {
	app, svc := setupApp(t, nil)
	svc.On("SubmitStep", mock.Anything, admin, "sess-1", "bank", mock.Anything).
		Return(nil, apperrors.NewValidationFailedError("bank", []apperrors.FieldError{
			{Field: "ifscCode", Code: "PATTERN_MISMATCH", Message: "does not match"},
		})).Once()

	resp, err := app.Test(jsonRequest(http.MethodPost, "/v1/onboarding/sessions/sess-1/steps/bank", `{"ifscCode":"bad"}`, admin))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	stdErr := decodeError(t, resp)
	require.Len(t, stdErr.FieldErrors, 1)
	assert.Equal(t, "ifscCode", stdErr.FieldErrors[0].Field)
}

func TestMalformedBody(t *testing.T) {
	app, _ := setupApp(t, nil)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/v1/onboarding/sessions/sess-1/steps/basic", `{"businessName":`, admin))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(jsonRequest(http.MethodPost, "/v1/onboarding/sessions", `[1,2]`, admin))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	app, _ := setupApp(t, nil)

	resp, err := app.Test(jsonRequest(http.MethodGet, "/v1/onboarding/nope", "", admin))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
