// internal/onboarding/service/service.go

// Package service drives onboarding wizard sessions: it loads and saves
// sessions, applies step transitions and performs the final submission.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "merchant-onboarding/internal/common/errors"
	"merchant-onboarding/internal/common/logger"
	"merchant-onboarding/internal/common/metrics"
	"merchant-onboarding/internal/common/observability"
	"merchant-onboarding/internal/models"
	"merchant-onboarding/internal/onboarding/sequencer"
	"merchant-onboarding/internal/onboarding/submission"
	"merchant-onboarding/internal/onboarding/wizard"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ModeCreate = "create"
	ModeEdit   = "edit"
)

// SessionStore is implemented by store.Store.
type SessionStore interface {
	Create(ctx context.Context, sess *wizard.Session) error
	Get(ctx context.Context, id string) (*wizard.Session, error)
	Update(ctx context.Context, id string, fn func(*wizard.Session) error) (*wizard.Session, error)
	Delete(ctx context.Context, id string) error
}

// FranchiseDirectory is implemented by franchises.Directory.
type FranchiseDirectory interface {
	List(ctx context.Context, query string) ([]models.FranchiseOption, error)
	Exists(ctx context.Context, id string) (bool, error)
	Prefetch(ctx context.Context) error
	Invalidate(ctx context.Context) error
}

// Backend is implemented by submission.Client.
type Backend interface {
	Create(ctx context.Context, ct sequencer.CustomerType, payload map[string]interface{}, docs []wizard.DocumentRef) (*submission.Result, error)
	Update(ctx context.Context, ct sequencer.CustomerType, id string, payload map[string]interface{}, docs []wizard.DocumentRef) (*submission.Result, error)
	Fetch(ctx context.Context, ct sequencer.CustomerType, id string) (map[string]interface{}, error)
}

// ApprovalStarter is implemented by camunda.ProcessStarter.
type ApprovalStarter interface {
	StartApproval(ctx context.Context, vars map[string]interface{}) (int64, error)
}

type Config struct {
	PrefetchTimeout time.Duration
	// SubmitLease bounds how long a final submission may hold a session.
	// It should exceed the backend timeout.
	SubmitLease time.Duration
}

// StartRequest opens a wizard.
type StartRequest struct {
	Mode         string `json:"mode"`
	CustomerType string `json:"customerType,omitempty"`
	EntityID     string `json:"entityId,omitempty"`
}

// Outcome is returned by every operation that moves a session.
type Outcome struct {
	Session             wizard.View        `json:"session"`
	Moved               bool               `json:"moved"`
	Dropped             []string           `json:"dropped,omitempty"`
	Submitted           bool               `json:"submitted"`
	Result              *submission.Result `json:"result,omitempty"`
	ApprovalInstanceKey int64              `json:"approvalInstanceKey,omitempty"`
}

type Service struct {
	config    *Config
	store     SessionStore
	directory FranchiseDirectory
	backend   Backend
	approvals ApprovalStarter
	validator wizard.Validator
	obs       *observability.Observability
	logger    logger.Logger
	newID     func() string
}

// New builds the service. approvals and obs may be nil.
func New(
	config *Config,
	store SessionStore,
	directory FranchiseDirectory,
	backend Backend,
	approvals ApprovalStarter,
	validator wizard.Validator,
	obs *observability.Observability,
	log logger.Logger,
) *Service {
	if config.PrefetchTimeout <= 0 {
		config.PrefetchTimeout = 5 * time.Second
	}
	if config.SubmitLease <= 0 {
		config.SubmitLease = 2 * time.Minute
	}
	return &Service{
		config:    config,
		store:     store,
		directory: directory,
		backend:   backend,
		approvals: approvals,
		validator: validator,
		obs:       obs,
		logger:    log.WithFields(map[string]interface{}{"component": "onboarding-service"}),
		newID:     func() string { return uuid.New().String() },
	}
}

// Start opens a new wizard session. In edit mode the entity is loaded from
// the backend and prefills the form.
func (s *Service) Start(ctx context.Context, actor sequencer.Actor, req StartRequest) (*wizard.View, error) {
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = ModeCreate
	}
	if mode != ModeCreate && mode != ModeEdit {
		return nil, apperrors.NewInvalidRequestError(fmt.Sprintf("unknown mode %q", req.Mode))
	}
	editMode := mode == ModeEdit

	ct, err := sequencer.ParseCustomerType(req.CustomerType)
	if err != nil {
		return nil, apperrors.NewInvalidCustomerTypeError(err.Error())
	}
	if actor.IsFranchise() {
		if ct == sequencer.CustomerTypeFranchise {
			return nil, apperrors.NewInvalidCustomerTypeError("a franchise can only onboard merchants")
		}
		ct = sequencer.CustomerTypeMerchant
	}

	var prefill map[string]interface{}
	if editMode {
		if req.EntityID == "" {
			return nil, apperrors.NewInvalidRequestError("entityId is required in edit mode")
		}
		if ct == sequencer.CustomerTypeUnset {
			return nil, apperrors.NewInvalidCustomerTypeError("customerType is required in edit mode")
		}
		prefill, err = s.backend.Fetch(ctx, ct, req.EntityID)
		if err != nil {
			return nil, err
		}
		if actor.IsFranchise() && !ownedBy(prefill, actor.FranchiseID) {
			return nil, apperrors.NewEntityNotFoundError(string(ct), req.EntityID)
		}
	}

	sess := wizard.New(s.newID(), actor, editMode, ct, prefill)
	if editMode {
		sess.EntityID = req.EntityID
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	metrics.SessionsStarted.WithLabelValues(mode, contextLabel(sess)).Inc()
	s.logger.Info("session started", map[string]interface{}{
		"sessionId":    sess.ID,
		"mode":         mode,
		"customerType": string(ct),
		"plan":         sess.Plan.String(),
	})

	s.maybePrefetch(sess)

	view := sess.View()
	return &view, nil
}

// Get returns the current view of a session.
func (s *Service) Get(ctx context.Context, actor sequencer.Actor, id string) (*wizard.View, error) {
	sess, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	view := sess.View()
	return &view, nil
}

// SelectCustomerType answers the customerType step.
func (s *Service) SelectCustomerType(ctx context.Context, actor sequencer.Actor, id, customerType string) (*Outcome, error) {
	ct, err := sequencer.ParseCustomerType(customerType)
	if err != nil {
		return nil, apperrors.NewInvalidCustomerTypeError(err.Error())
	}

	var result wizard.StepResult
	sess, err := s.update(ctx, actor, id, func(sess *wizard.Session) error {
		var err error
		result, err = sess.SelectCustomerType(ct)
		return err
	})
	s.recordStep(ctx, sequencer.StepCustomerType, err)
	if err != nil {
		return nil, err
	}

	s.maybePrefetch(sess)
	return &Outcome{Session: sess.View(), Moved: true, Dropped: result.Dropped}, nil
}

// SubmitStep validates and records one step. Completing the last step
// performs the final submission.
func (s *Service) SubmitStep(ctx context.Context, actor sequencer.Actor, id, step string, in wizard.Input) (*Outcome, error) {
	kind, ok := sequencer.ParseStepKind(step)
	if !ok {
		return nil, apperrors.NewInvalidRequestError(fmt.Sprintf("unknown step %q", step))
	}

	if kind == sequencer.StepFranchise {
		if err := s.checkFranchise(ctx, in.Fields); err != nil {
			s.recordStep(ctx, kind, err)
			return nil, err
		}
	}

	var result wizard.StepResult
	sess, err := s.update(ctx, actor, id, func(sess *wizard.Session) error {
		var err error
		result, err = sess.SubmitStep(kind, in, s.validator)
		if err != nil {
			return err
		}
		if result.Submit {
			return sess.BeginSubmit(s.config.SubmitLease)
		}
		return nil
	})
	s.recordStep(ctx, kind, err)
	if err != nil {
		return nil, err
	}

	if result.Submit {
		return s.finalize(ctx, sess)
	}

	if kind == sequencer.StepCustomerType {
		s.maybePrefetch(sess)
	}
	return &Outcome{Session: sess.View(), Moved: true, Dropped: result.Dropped}, nil
}

// Back moves the session one step back. Moved is false at the first step.
func (s *Service) Back(ctx context.Context, actor sequencer.Actor, id string) (*Outcome, error) {
	var moved bool
	sess, err := s.update(ctx, actor, id, func(sess *wizard.Session) error {
		var err error
		moved, err = sess.Back()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Session: sess.View(), Moved: moved}, nil
}

// Submit retries the final submission of a session whose previous attempt
// failed.
func (s *Service) Submit(ctx context.Context, actor sequencer.Actor, id string) (*Outcome, error) {
	sess, err := s.update(ctx, actor, id, func(sess *wizard.Session) error {
		return sess.BeginSubmit(s.config.SubmitLease)
	})
	if err != nil {
		return nil, err
	}
	return s.finalize(ctx, sess)
}

// Cancel discards a session and its accumulated form.
func (s *Service) Cancel(ctx context.Context, actor sequencer.Actor, id string) error {
	sess, err := s.load(ctx, actor, id)
	if err != nil {
		return err
	}
	if sess.InFlight() {
		return apperrors.NewSubmissionInFlightError(id)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("session cancelled", map[string]interface{}{"sessionId": id})
	return nil
}

// ListFranchises returns the franchise picker options.
func (s *Service) ListFranchises(ctx context.Context, query string) ([]models.FranchiseOption, error) {
	label := "all"
	if strings.TrimSpace(query) != "" {
		label = "search"
	}

	options, err := s.directory.List(ctx, query)
	if err != nil {
		metrics.FranchiseListings.WithLabelValues(label, "error").Inc()
		return nil, err
	}
	metrics.FranchiseListings.WithLabelValues(label, "ok").Inc()
	return options, nil
}

// finalize sends the accumulated form to the backend. The session must
// already be marked busy. A failure clears the flag and keeps the form so
// the user can retry; success removes the session.
func (s *Service) finalize(ctx context.Context, sess *wizard.Session) (*Outcome, error) {
	// The backend call is not abortable once started.
	ctx = context.WithoutCancel(ctx)

	ct := sess.Context.CustomerType
	mode := ModeCreate
	if sess.Context.IsEditMode {
		mode = ModeEdit
	}

	ctx, span := s.startSpan(ctx, "onboarding.submit",
		attribute.String("session.id", sess.ID),
		attribute.String("customer.type", string(ct)),
		attribute.String("mode", mode),
	)
	defer span.End()

	payload := sess.Payload()
	docs := sess.Documents()

	metrics.SubmissionsInFlight.Inc()
	start := time.Now()

	var (
		result *submission.Result
		err    error
	)
	if sess.Context.IsEditMode {
		result, err = s.backend.Update(ctx, ct, sess.EntityID, payload, docs)
	} else {
		result, err = s.backend.Create(ctx, ct, payload, docs)
	}

	elapsed := time.Since(start)
	metrics.SubmissionsInFlight.Dec()
	metrics.SubmissionDuration.WithLabelValues(string(ct)).Observe(elapsed.Seconds())

	if err != nil {
		metrics.Submissions.WithLabelValues(string(ct), mode, "failed").Inc()
		s.recordSubmission(ctx, elapsed, ct, "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		s.logger.Warn("submission failed", map[string]interface{}{
			"sessionId": sess.ID,
			"error":     err,
		})
		if _, uerr := s.store.Update(ctx, sess.ID, func(stored *wizard.Session) error {
			stored.FinishSubmit(err)
			return nil
		}); uerr != nil {
			s.logger.Error("failed to release session after submission failure", map[string]interface{}{
				"sessionId": sess.ID,
				"error":     uerr,
			})
		}
		return nil, err
	}

	metrics.Submissions.WithLabelValues(string(ct), mode, "ok").Inc()
	s.recordSubmission(ctx, elapsed, ct, "ok")

	sess.FinishSubmit(nil)
	sess.EntityID = result.ID
	if err := s.store.Delete(ctx, sess.ID); err != nil {
		s.logger.Warn("failed to delete submitted session", map[string]interface{}{
			"sessionId": sess.ID,
			"error":     err,
		})
	}

	// A created or edited franchise changes the picker list.
	if ct == sequencer.CustomerTypeFranchise {
		if err := s.directory.Invalidate(ctx); err != nil {
			s.logger.Warn("failed to invalidate franchise directory", map[string]interface{}{"error": err})
		}
	}

	outcome := &Outcome{Session: sess.View(), Moved: true, Submitted: true, Result: result}

	if approved, _ := payload["isApproved"].(bool); !approved {
		outcome.ApprovalInstanceKey = s.startApproval(ctx, sess, payload)
	}

	s.logger.Info("submission completed", map[string]interface{}{
		"sessionId":    sess.ID,
		"entityId":     result.ID,
		"customerType": string(ct),
		"mode":         mode,
		"durationMs":   elapsed.Milliseconds(),
	})
	return outcome, nil
}

// startApproval starts the approval workflow for an unapproved entity. The
// entity already exists, so a failure is logged and not returned.
func (s *Service) startApproval(ctx context.Context, sess *wizard.Session, payload map[string]interface{}) int64 {
	if s.approvals == nil {
		return 0
	}

	vars := map[string]interface{}{
		"notificationType": "approval_requested",
		"sessionId":        sess.ID,
		"entityId":         sess.EntityID,
		"customerType":     string(sess.Context.CustomerType),
		"businessName":     payload["businessName"],
		"contactName":      payload["contactName"],
		"email":            payload["email"],
		"phone":            payload["phone"],
		"franchiseId":      payload["franchiseId"],
		"priority":         "high",
	}

	key, err := s.approvals.StartApproval(ctx, vars)
	if err != nil {
		s.logger.Error("failed to start approval process", map[string]interface{}{
			"sessionId": sess.ID,
			"entityId":  sess.EntityID,
			"error":     err,
		})
		return 0
	}
	return key
}

func (s *Service) checkFranchise(ctx context.Context, fields map[string]interface{}) error {
	id, _ := fields["franchiseId"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		// Left to the step schema.
		return nil
	}
	exists, err := s.directory.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.NewValidationFailedError(string(sequencer.StepFranchise), []apperrors.FieldError{{
			Field:   "franchiseId",
			Code:    "UNKNOWN_FRANCHISE",
			Message: "franchise does not exist or is not approved",
		}})
	}
	return nil
}

// maybePrefetch warms the franchise cache once a merchant is being
// onboarded outside a franchise context.
func (s *Service) maybePrefetch(sess *wizard.Session) {
	if s.directory == nil || !sess.Plan.Contains(sequencer.StepFranchise) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.PrefetchTimeout)
		defer cancel()
		if err := s.directory.Prefetch(ctx); err != nil {
			s.logger.Warn("franchise prefetch failed", map[string]interface{}{"error": err})
		}
	}()
}

// load reads a session owned by actor. Sessions of other actors are
// reported as missing.
func (s *Service) load(ctx context.Context, actor sequencer.Actor, id string) (*wizard.Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Actor != actor {
		return nil, apperrors.NewSessionNotFoundError(id)
	}
	return sess, nil
}

func (s *Service) update(ctx context.Context, actor sequencer.Actor, id string, fn func(*wizard.Session) error) (*wizard.Session, error) {
	return s.store.Update(ctx, id, func(sess *wizard.Session) error {
		if sess.Actor != actor {
			return apperrors.NewSessionNotFoundError(id)
		}
		return fn(sess)
	})
}

func (s *Service) recordStep(ctx context.Context, kind sequencer.StepKind, err error) {
	result := "ok"
	switch {
	case apperrors.HasCode(err, apperrors.ErrCodeValidationFailed):
		result = "invalid"
	case err != nil:
		result = "error"
	}
	metrics.StepsSubmitted.WithLabelValues(string(kind), result).Inc()
	if s.obs != nil {
		s.obs.RecordStep(ctx, string(kind), result)
	}
}

func (s *Service) recordSubmission(ctx context.Context, d time.Duration, ct sequencer.CustomerType, status string) {
	if s.obs != nil {
		s.obs.RecordSubmission(ctx, d, string(ct), status)
	}
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if s.obs == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.obs.StartSpan(ctx, name, attrs...)
}

func contextLabel(sess *wizard.Session) string {
	if sess.Context.IsFranchiseContext {
		return "franchise"
	}
	return "admin"
}

// ownedBy reports whether an entity fetched for edit belongs to franchiseID.
func ownedBy(entity map[string]interface{}, franchiseID string) bool {
	v, ok := entity["franchiseId"]
	return ok && fmt.Sprint(v) == franchiseID
}
