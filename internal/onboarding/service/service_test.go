// internal/onboarding/service/service_test.go
package service

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	apperrors "merchant-onboarding/internal/common/errors"
	"merchant-onboarding/internal/common/logger"
	"merchant-onboarding/internal/models"
	"merchant-onboarding/internal/onboarding/sequencer"
	"merchant-onboarding/internal/onboarding/store"
	"merchant-onboarding/internal/onboarding/submission"
	"merchant-onboarding/internal/onboarding/wizard"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Create(ctx context.Context, ct sequencer.CustomerType, payload map[string]interface{}, docs []wizard.DocumentRef) (*submission.Result, error) {
	args := m.Called(ctx, ct, payload, docs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*submission.Result), args.Error(1)
}

func (m *MockBackend) Update(ctx context.Context, ct sequencer.CustomerType, id string, payload map[string]interface{}, docs []wizard.DocumentRef) (*submission.Result, error) {
	args := m.Called(ctx, ct, id, payload, docs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*submission.Result), args.Error(1)
}

func (m *MockBackend) Fetch(ctx context.Context, ct sequencer.CustomerType, id string) (map[string]interface{}, error) {
	args := m.Called(ctx, ct, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

type MockApprovals struct {
	mock.Mock
}

func (m *MockApprovals) StartApproval(ctx context.Context, vars map[string]interface{}) (int64, error) {
	args := m.Called(ctx, vars)
	return args.Get(0).(int64), args.Error(1)
}

// fakeDirectory is safe to call from the prefetch goroutine after a test
// has finished.
type fakeDirectory struct {
	mu          sync.Mutex
	options     []models.FranchiseOption
	err         error
	prefetched  chan struct{}
	invalidated int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		options: []models.FranchiseOption{
			{ID: "fr-7", DisplayName: "Chai Point Koramangala"},
			{ID: "fr-9", DisplayName: "Dosa Corner"},
		},
		prefetched: make(chan struct{}, 16),
	}
}

func (d *fakeDirectory) List(ctx context.Context, query string) ([]models.FranchiseOption, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.options, d.err
}

func (d *fakeDirectory) Exists(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	for _, o := range d.options {
		if o.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (d *fakeDirectory) Invalidate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalidated++
	return nil
}

func (d *fakeDirectory) invalidations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.invalidated
}

func (d *fakeDirectory) Prefetch(ctx context.Context) error {
	select {
	case d.prefetched <- struct{}{}:
	default:
	}
	return nil
}

// ==========================
// Test Helpers
// ==========================

var (
	admin     = sequencer.Actor{UserType: sequencer.UserTypeAdmin}
	franchise = sequencer.Actor{UserType: sequencer.UserTypeFranchise, FranchiseID: "fr-42"}
)

type fixture struct {
	svc       *Service
	store     *store.Store
	mr        *miniredis.Miniredis
	backend   *MockBackend
	approvals *MockApprovals
	directory *fakeDirectory
}

func setup(t *testing.T) *fixture {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := logger.NewTestLogger(t)
	st := store.New(client, time.Hour, log)
	backend := &MockBackend{}
	approvals := &MockApprovals{}
	directory := newFakeDirectory()

	validator, err := wizard.NewSchemaValidator(1 << 20)
	require.NoError(t, err)

	svc := New(&Config{PrefetchTimeout: time.Second}, st, directory, backend, approvals,
		validator, nil, log)
	svc.newID = func() string { return "sess-1" }

	return &fixture{svc: svc, store: st, mr: mr, backend: backend, approvals: approvals, directory: directory}
}

func stepInput(kind sequencer.StepKind) wizard.Input {
	switch kind {
	case sequencer.StepCustomerType:
		return wizard.Input{Fields: map[string]interface{}{"customerType": "merchant"}}
	case sequencer.StepFranchise:
		return wizard.Input{Fields: map[string]interface{}{"franchiseId": "fr-7"}}
	case sequencer.StepBasic:
		return wizard.Input{Fields: map[string]interface{}{
			"businessName": "Chai Point",
			"legalName":    "Chai Point Pvt Ltd",
			"businessType": "private_limited",
		}}
	case sequencer.StepContact:
		return wizard.Input{Fields: map[string]interface{}{
			"contactName": "Asha Rao",
			"email":       "asha@chaipoint.in",
			"phone":       "+91 98765 43210",
			"address":     "12 MG Road",
			"city":        "Bengaluru",
			"state":       "Karnataka",
			"postalCode":  "560001",
		}}
	case sequencer.StepBank:
		return wizard.Input{Fields: map[string]interface{}{
			"accountHolderName": "Chai Point Pvt Ltd",
			"bankName":          "HDFC Bank",
			"accountNumber":     "00123456789",
			"ifscCode":          "HDFC0001234",
		}}
	case sequencer.StepDocuments:
		return wizard.Input{Documents: []wizard.DocumentRef{
			{Field: wizard.DocPANCard, FileName: "pan.pdf", ContentType: "application/pdf", Size: 4, Data: []byte("%PDF")},
			{Field: wizard.DocAddressProof, FileName: "addr.png", ContentType: "image/png", Size: 4, Data: []byte("abcd")},
		}}
	}
	return wizard.Input{}
}

// walkTo submits valid input until the session reaches the documents step.
func walkTo(t *testing.T, f *fixture, actor sequencer.Actor, id string) {
	t.Helper()
	for {
		view, err := f.svc.Get(context.Background(), actor, id)
		require.NoError(t, err)
		if view.CurrentStep == sequencer.StepDocuments {
			return
		}
		_, err = f.svc.SubmitStep(context.Background(), actor, id, string(view.CurrentStep), stepInput(view.CurrentStep))
		require.NoError(t, err, "step %s", view.CurrentStep)
	}
}

// ==========================
// Start
// ==========================

func TestService_Start(t *testing.T) {
	tests := []struct {
		name     string
		actor    sequencer.Actor
		req      StartRequest
		wantPlan []sequencer.StepKind
		wantCT   sequencer.CustomerType
	}{
		{
			name:     "admin create",
			actor:    admin,
			req:      StartRequest{Mode: ModeCreate},
			wantPlan: []sequencer.StepKind{sequencer.StepCustomerType},
		},
		{
			name:     "franchise create pins merchant",
			actor:    franchise,
			req:      StartRequest{},
			wantPlan: []sequencer.StepKind{sequencer.StepBasic, sequencer.StepContact, sequencer.StepBank, sequencer.StepDocuments},
			wantCT:   sequencer.CustomerTypeMerchant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)

			view, err := f.svc.Start(context.Background(), tt.actor, tt.req)
			require.NoError(t, err)
			assert.Equal(t, "sess-1", view.ID)
			assert.Equal(t, tt.wantPlan, view.Steps)
			assert.Equal(t, 1, view.Index)
			assert.Equal(t, tt.wantCT, view.CustomerType)
			assert.False(t, view.CanGoBack)
			assert.True(t, f.mr.Exists("onboarding:session:sess-1"))
		})
	}
}

func TestService_StartEditMode(t *testing.T) {
	f := setup(t)
	f.backend.On("Fetch", mock.Anything, sequencer.CustomerTypeMerchant, "m-1").
		Return(map[string]interface{}{
			"businessName": "Chai Point",
			"franchiseId":  "fr-42",
			"panCard":      "pan.pdf",
		}, nil)

	view, err := f.svc.Start(context.Background(), franchise, StartRequest{Mode: ModeEdit, EntityID: "m-1"})
	require.NoError(t, err)
	assert.True(t, view.EditMode)
	assert.Equal(t, "m-1", view.EntityID)
	assert.Equal(t, "Chai Point", view.Fields["businessName"])
	assert.Equal(t, 4, view.TotalSteps)
	f.backend.AssertExpectations(t)
}

func TestService_StartErrors(t *testing.T) {
	tests := []struct {
		name  string
		actor sequencer.Actor
		req   StartRequest
		code  apperrors.ErrorCode
	}{
		{name: "unknown mode", actor: admin, req: StartRequest{Mode: "clone"}, code: apperrors.ErrCodeInvalidRequest},
		{name: "bad customer type", actor: admin, req: StartRequest{CustomerType: "reseller"}, code: apperrors.ErrCodeInvalidCustomerType},
		{name: "franchise onboarding a franchise", actor: franchise, req: StartRequest{CustomerType: "franchise"}, code: apperrors.ErrCodeInvalidCustomerType},
		{name: "edit without entity", actor: admin, req: StartRequest{Mode: ModeEdit, CustomerType: "merchant"}, code: apperrors.ErrCodeInvalidRequest},
		{name: "edit without customer type", actor: admin, req: StartRequest{Mode: ModeEdit, EntityID: "m-1"}, code: apperrors.ErrCodeInvalidCustomerType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			_, err := f.svc.Start(context.Background(), tt.actor, tt.req)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestService_StartEditForeignEntity(t *testing.T) {
	f := setup(t)
	f.backend.On("Fetch", mock.Anything, sequencer.CustomerTypeMerchant, "m-2").
		Return(map[string]interface{}{"franchiseId": "fr-other"}, nil)

	_, err := f.svc.Start(context.Background(), franchise, StartRequest{Mode: ModeEdit, EntityID: "m-2"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEntityNotFound))
}

// ==========================
// Navigation
// ==========================

func TestService_SelectCustomerTypePrefetches(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Start(context.Background(), admin, StartRequest{})
	require.NoError(t, err)

	out, err := f.svc.SelectCustomerType(context.Background(), admin, "sess-1", "merchant")
	require.NoError(t, err)
	assert.Equal(t, 2, out.Session.Index)
	assert.Equal(t, sequencer.StepFranchise, out.Session.CurrentStep)
	assert.Equal(t, 6, out.Session.TotalSteps)

	select {
	case <-f.directory.prefetched:
	case <-time.After(time.Second):
		t.Fatal("franchise list was not prefetched")
	}
}

func TestService_UnknownFranchiseRejected(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Start(context.Background(), admin, StartRequest{CustomerType: "merchant"})
	require.NoError(t, err)
	_, err = f.svc.SubmitStep(context.Background(), admin, "sess-1", "customerType", stepInput(sequencer.StepCustomerType))
	require.NoError(t, err)

	_, err = f.svc.SubmitStep(context.Background(), admin, "sess-1", "franchise",
		wizard.Input{Fields: map[string]interface{}{"franchiseId": "fr-unknown"}})

	stdErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, stdErr.Code)

	view, err := f.svc.Get(context.Background(), admin, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, sequencer.StepFranchise, view.CurrentStep)
}

func TestService_ValidationKeepsIndex(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Start(context.Background(), franchise, StartRequest{})
	require.NoError(t, err)

	_, err = f.svc.SubmitStep(context.Background(), franchise, "sess-1", "basic",
		wizard.Input{Fields: map[string]interface{}{"businessName": "X"}})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))

	view, err := f.svc.Get(context.Background(), franchise, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, view.Index)
}

func TestService_StepMismatchAndUnknownStep(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Start(context.Background(), franchise, StartRequest{})
	require.NoError(t, err)

	_, err = f.svc.SubmitStep(context.Background(), franchise, "sess-1", "bank", stepInput(sequencer.StepBank))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStepMismatch))

	_, err = f.svc.SubmitStep(context.Background(), franchise, "sess-1", "complete", wizard.Input{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidRequest))
}

func TestService_Back(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Start(context.Background(), franchise, StartRequest{})
	require.NoError(t, err)

	out, err := f.svc.Back(context.Background(), franchise, "sess-1")
	require.NoError(t, err)
	assert.False(t, out.Moved)
	assert.Equal(t, 1, out.Session.Index)

	_, err = f.svc.SubmitStep(context.Background(), franchise, "sess-1", "basic", stepInput(sequencer.StepBasic))
	require.NoError(t, err)

	out, err = f.svc.Back(context.Background(), franchise, "sess-1")
	require.NoError(t, err)
	assert.True(t, out.Moved)
	assert.Equal(t, sequencer.StepBasic, out.Session.CurrentStep)
	assert.Equal(t, "Chai Point", out.Session.Fields["businessName"])
}

func TestService_OtherActorCannotSeeSession(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Start(context.Background(), franchise, StartRequest{})
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), admin, "sess-1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))

	_, err = f.svc.Back(context.Background(), admin, "sess-1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
}

func TestService_Cancel(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Start(context.Background(), admin, StartRequest{})
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(context.Background(), admin, "sess-1"))

	_, err = f.svc.Get(context.Background(), admin, "sess-1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
}

// ==========================
// Final Submission
// ==========================

func TestService_FranchiseContextSubmission(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Start(context.Background(), franchise, StartRequest{})
	require.NoError(t, err)
	walkTo(t, f, franchise, "sess-1")

	f.backend.On("Create", mock.Anything, sequencer.CustomerTypeMerchant,
		mock.MatchedBy(func(p map[string]interface{}) bool {
			return p["franchiseId"] == "fr-42" &&
				p["isApproved"] == false &&
				p["createdByFranchise"] == true &&
				p["customerType"] == "merchant" &&
				p["businessName"] == "Chai Point"
		}),
		mock.MatchedBy(func(docs []wizard.DocumentRef) bool { return len(docs) == 2 }),
	).Return(&submission.Result{ID: "m-100", Status: 201}, nil).Once()

	f.approvals.On("StartApproval", mock.Anything, mock.MatchedBy(func(v map[string]interface{}) bool {
		return v["entityId"] == "m-100" && v["franchiseId"] == "fr-42" && v["email"] == "asha@chaipoint.in"
	})).Return(int64(99), nil).Once()

	out, err := f.svc.SubmitStep(context.Background(), franchise, "sess-1", "documents", stepInput(sequencer.StepDocuments))
	require.NoError(t, err)
	assert.True(t, out.Submitted)
	assert.Equal(t, "m-100", out.Result.ID)
	assert.Equal(t, int64(99), out.ApprovalInstanceKey)
	assert.Equal(t, wizard.StatusSubmitted, out.Session.Status)
	assert.Equal(t, sequencer.StepComplete, out.Session.CurrentStep)
	assert.False(t, f.mr.Exists("onboarding:session:sess-1"))

	f.backend.AssertExpectations(t)
	f.approvals.AssertExpectations(t)
}

func TestService_AdminSubmissionSkipsApproval(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Start(context.Background(), admin, StartRequest{})
	require.NoError(t, err)
	walkTo(t, f, admin, "sess-1")

	f.backend.On("Create", mock.Anything, sequencer.CustomerTypeMerchant,
		mock.MatchedBy(func(p map[string]interface{}) bool {
			return p["franchiseId"] == "fr-7" && p["isApproved"] == true && p["createdByFranchise"] == false
		}),
		mock.Anything,
	).Return(&submission.Result{ID: "m-5"}, nil).Once()

	out, err := f.svc.SubmitStep(context.Background(), admin, "sess-1", "documents", stepInput(sequencer.StepDocuments))
	require.NoError(t, err)
	assert.True(t, out.Submitted)
	assert.Zero(t, out.ApprovalInstanceKey)
	f.approvals.AssertNotCalled(t, "StartApproval", mock.Anything, mock.Anything)
	assert.Zero(t, f.directory.invalidations())
}

func TestService_FranchiseCreationInvalidatesDirectory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.svc.Start(ctx, admin, StartRequest{})
	require.NoError(t, err)

	_, err = f.svc.SelectCustomerType(ctx, admin, "sess-1", "franchise")
	require.NoError(t, err)
	walkTo(t, f, admin, "sess-1")

	f.backend.On("Create", mock.Anything, sequencer.CustomerTypeFranchise, mock.Anything, mock.Anything).
		Return(&submission.Result{ID: "fr-100"}, nil).Once()

	out, err := f.svc.SubmitStep(ctx, admin, "sess-1", "documents", stepInput(sequencer.StepDocuments))
	require.NoError(t, err)
	assert.True(t, out.Submitted)
	assert.Equal(t, 1, f.directory.invalidations())
}

func TestService_SubmissionFailureKeepsState(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Start(context.Background(), franchise, StartRequest{})
	require.NoError(t, err)
	walkTo(t, f, franchise, "sess-1")

	f.backend.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apperrors.NewSubmissionFailedError(502, "upstream down")).Once()

	_, err = f.svc.SubmitStep(context.Background(), franchise, "sess-1", "documents", stepInput(sequencer.StepDocuments))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSubmissionFailed))

	view, err := f.svc.Get(context.Background(), franchise, "sess-1")
	require.NoError(t, err)
	assert.False(t, view.Busy)
	assert.Equal(t, 4, view.Index)
	assert.Equal(t, sequencer.StepDocuments, view.CurrentStep)
	require.NotNil(t, view.LastError)
	assert.Equal(t, apperrors.ErrCodeSubmissionFailed, view.LastError.Code)
	assert.Equal(t, "Chai Point", view.Fields["businessName"])

	// Retry without re-entering anything.
	f.backend.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&submission.Result{ID: "m-101"}, nil).Once()
	f.approvals.On("StartApproval", mock.Anything, mock.Anything).
		Return(int64(0), stderrors.New("zeebe unavailable")).Once()

	out, err := f.svc.Submit(context.Background(), franchise, "sess-1")
	require.NoError(t, err)
	assert.True(t, out.Submitted)
	assert.Equal(t, "m-101", out.Result.ID)
	assert.Zero(t, out.ApprovalInstanceKey)
}

func TestService_SubmitBeforeLastStep(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Start(context.Background(), franchise, StartRequest{})
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), franchise, "sess-1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStepMismatch))
}

func TestService_BusySessionRejectsChanges(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Start(context.Background(), franchise, StartRequest{})
	require.NoError(t, err)
	walkTo(t, f, franchise, "sess-1")

	_, err = f.store.Update(context.Background(), "sess-1", func(sess *wizard.Session) error {
		sess.Busy = true
		return nil
	})
	require.NoError(t, err)

	_, err = f.svc.Back(context.Background(), franchise, "sess-1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSubmissionInFlight))

	_, err = f.svc.Submit(context.Background(), franchise, "sess-1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSubmissionInFlight))

	err = f.svc.Cancel(context.Background(), franchise, "sess-1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSubmissionInFlight))
}

func TestService_ExpiredBusyFlagAllowsRetry(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Start(context.Background(), franchise, StartRequest{})
	require.NoError(t, err)
	walkTo(t, f, franchise, "sess-1")

	// An attempt that died mid-call: busy, documents held, lease long gone.
	_, err = f.store.Update(context.Background(), "sess-1", func(sess *wizard.Session) error {
		sess.Accumulator.Merge(sequencer.StepDocuments, nil, stepInput(sequencer.StepDocuments).Documents)
		sess.Busy = true
		sess.BusyUntil = time.Now().Add(-time.Minute)
		return nil
	})
	require.NoError(t, err)

	view, err := f.svc.Get(context.Background(), franchise, "sess-1")
	require.NoError(t, err)
	assert.False(t, view.Busy)

	f.backend.On("Create", mock.Anything, sequencer.CustomerTypeMerchant, mock.Anything, mock.Anything).
		Return(&submission.Result{ID: "m-102"}, nil).Once()
	f.approvals.On("StartApproval", mock.Anything, mock.Anything).Return(int64(7), nil).Once()

	out, err := f.svc.Submit(context.Background(), franchise, "sess-1")
	require.NoError(t, err)
	assert.True(t, out.Submitted)
	assert.Equal(t, "m-102", out.Result.ID)
	f.backend.AssertExpectations(t)
}

func TestService_ExpiredBusyFlagAllowsCancel(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Start(context.Background(), franchise, StartRequest{})
	require.NoError(t, err)

	_, err = f.store.Update(context.Background(), "sess-1", func(sess *wizard.Session) error {
		sess.Busy = true
		sess.BusyUntil = time.Now().Add(-time.Second)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(context.Background(), franchise, "sess-1"))
	assert.False(t, f.mr.Exists("onboarding:session:sess-1"))
}

func TestService_SubmitSetsLease(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Start(context.Background(), franchise, StartRequest{})
	require.NoError(t, err)
	walkTo(t, f, franchise, "sess-1")

	f.backend.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sess, err := f.store.Get(context.Background(), "sess-1")
			require.NoError(t, err)
			assert.True(t, sess.InFlight())
			assert.WithinDuration(t, time.Now().Add(2*time.Minute), sess.BusyUntil, 10*time.Second)
		}).
		Return(nil, apperrors.NewSubmissionFailedError(500, "boom")).Once()

	_, err = f.svc.SubmitStep(context.Background(), franchise, "sess-1", "documents", stepInput(sequencer.StepDocuments))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSubmissionFailed))
	f.backend.AssertExpectations(t)
}

func TestService_EditModeUsesUpdate(t *testing.T) {
	f := setup(t)
	f.backend.On("Fetch", mock.Anything, sequencer.CustomerTypeFranchise, "fr-1").
		Return(map[string]interface{}{
			"businessName": "Chai Point",
			"panCard":      "pan.pdf",
			"addressProof": "addr.pdf",
		}, nil)

	_, err := f.svc.Start(context.Background(), admin, StartRequest{Mode: ModeEdit, CustomerType: "franchise", EntityID: "fr-1"})
	require.NoError(t, err)
	walkTo(t, f, admin, "sess-1")

	f.backend.On("Update", mock.Anything, sequencer.CustomerTypeFranchise, "fr-1",
		mock.MatchedBy(func(p map[string]interface{}) bool {
			_, hasFranchise := p["franchiseId"]
			return !hasFranchise && p["isApproved"] == true
		}),
		mock.MatchedBy(func(docs []wizard.DocumentRef) bool { return len(docs) == 0 }),
	).Return(&submission.Result{ID: "fr-1"}, nil).Once()

	out, err := f.svc.SubmitStep(context.Background(), admin, "sess-1", "documents", wizard.Input{})
	require.NoError(t, err)
	assert.True(t, out.Submitted)
	f.backend.AssertExpectations(t)
}

func TestService_ListFranchises(t *testing.T) {
	f := setup(t)

	options, err := f.svc.ListFranchises(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, options, 2)

	f.directory.err = apperrors.NewDatabaseConnectionFailedError(stderrors.New("down"))
	_, err = f.svc.ListFranchises(context.Background(), "chai")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabaseConnectionFailed))
}
