// internal/onboarding/wizard/session.go

// Package wizard holds the state of one onboarding wizard run: the
// sequencer context and plan, the active step and the accumulated form.
package wizard

import (
	"errors"
	"time"

	apperrors "merchant-onboarding/internal/common/errors"
	"merchant-onboarding/internal/onboarding/sequencer"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSubmitted Status = "submitted"
)

// Session is one wizard run. It is serialised as JSON by the session store.
type Session struct {
	ID          string                   `json:"id"`
	Actor       sequencer.Actor          `json:"actor"`
	Context     sequencer.WizardContext  `json:"context"`
	Plan        sequencer.StepPlan       `json:"plan"`
	Index       int                      `json:"index"`
	Accumulator *Accumulator             `json:"accumulator"`
	Busy        bool                     `json:"busy"`
	BusyUntil   time.Time                `json:"busyUntil"`
	EntityID    string                   `json:"entityId,omitempty"`
	Status      Status                   `json:"status"`
	LastError   *apperrors.StandardError `json:"lastError,omitempty"`
	CreatedAt   time.Time                `json:"createdAt"`
	UpdatedAt   time.Time                `json:"updatedAt"`
}

// StepResult describes what a step transition did.
type StepResult struct {
	// Submit is true when the last step was completed and the final
	// submission is due.
	Submit bool `json:"submit"`
	// Dropped lists fields discarded because their step left the plan.
	Dropped []string `json:"dropped,omitempty"`
}

// New starts a session. prefill seeds the accumulator in edit mode.
func New(id string, actor sequencer.Actor, editMode bool, customerType sequencer.CustomerType, prefill map[string]interface{}) *Session {
	now := time.Now().UTC()
	ctx := sequencer.NewContext(actor, editMode, customerType)
	plan := sequencer.ComputePlan(ctx)

	acc := NewAccumulator()
	if len(prefill) > 0 {
		acc.Prefill(prefill)
	}

	return &Session{
		ID:          id,
		Actor:       actor,
		Context:     ctx,
		Plan:        plan,
		Index:       sequencer.InitialIndex(plan),
		Accumulator: acc,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CurrentKind returns the step the session is on. A submitted session
// reports StepComplete.
func (s *Session) CurrentKind() sequencer.StepKind {
	if s.Status == StatusSubmitted {
		return sequencer.StepComplete
	}
	kind, _ := s.Plan.At(s.Index)
	return kind
}

func (s *Session) IsLastStep() bool {
	return s.Status == StatusActive && s.Index == s.Plan.Len()
}

func (s *Session) CanGoBack() bool {
	return s.Status == StatusActive && !s.InFlight() && s.Index > 1
}

// InFlight reports whether a final submission holds the session. A busy
// flag past BusyUntil belongs to an attempt that never finished and no
// longer holds it.
func (s *Session) InFlight() bool {
	return s.Busy && (s.BusyUntil.IsZero() || time.Now().Before(s.BusyUntil))
}

// checkMutable rejects changes to submitted or busy sessions. An expired
// busy flag is released and recorded as a timed out submission.
func (s *Session) checkMutable() error {
	if s.Status == StatusSubmitted {
		return apperrors.NewSessionClosedError(s.ID)
	}
	if s.InFlight() {
		return apperrors.NewSubmissionInFlightError(s.ID)
	}
	if s.Busy {
		s.releaseExpired()
	}
	return nil
}

func (s *Session) releaseExpired() {
	s.Busy = false
	s.BusyUntil = time.Time{}
	s.LastError = apperrors.NewBackendTimeoutError(errors.New("submission did not complete"))
}

// SelectCustomerType sets the customer type from the customerType step,
// recomputes the plan and moves to the next step.
func (s *Session) SelectCustomerType(ct sequencer.CustomerType) (StepResult, error) {
	if err := s.checkMutable(); err != nil {
		return StepResult{}, err
	}
	if current := s.CurrentKind(); current != sequencer.StepCustomerType {
		return StepResult{}, apperrors.NewStepMismatchError(string(current), string(sequencer.StepCustomerType))
	}
	if ct == sequencer.CustomerTypeUnset {
		return StepResult{}, apperrors.NewInvalidCustomerTypeError("customer type is required")
	}

	s.Context = s.Context.WithCustomerType(ct)
	s.Plan = sequencer.ComputePlan(s.Context)
	dropped := s.Accumulator.Reconcile(s.Plan)

	next, submit := sequencer.Advance(s.Index, s.Plan)
	s.Index = next
	s.touch()

	return StepResult{Submit: submit, Dropped: dropped}, nil
}

// SubmitStep validates and records the fields of the current step, then
// advances. On validation failure nothing changes.
func (s *Session) SubmitStep(kind sequencer.StepKind, in Input, v Validator) (StepResult, error) {
	if err := s.checkMutable(); err != nil {
		return StepResult{}, err
	}
	if current := s.CurrentKind(); current != kind {
		return StepResult{}, apperrors.NewStepMismatchError(string(current), string(kind))
	}

	in.Fields = normalizeFields(in.Fields)
	in.Held = s.heldDocuments()

	checked := in
	checked.Fields = presentFields(in.Fields)
	if errs := v.Validate(kind, checked); len(errs) > 0 {
		return StepResult{}, apperrors.NewValidationFailedError(string(kind), errs)
	}

	if kind == sequencer.StepCustomerType {
		ct, err := sequencer.ParseCustomerType(stringField(in.Fields, "customerType"))
		if err != nil {
			return StepResult{}, apperrors.NewInvalidCustomerTypeError(err.Error())
		}
		return s.SelectCustomerType(ct)
	}

	s.Accumulator.Merge(kind, in.Fields, in.Documents)

	next, submit := sequencer.Advance(s.Index, s.Plan)
	s.Index = next
	s.touch()

	return StepResult{Submit: submit}, nil
}

// Back moves to the previous step. It reports false at the first step.
func (s *Session) Back() (bool, error) {
	if err := s.checkMutable(); err != nil {
		return false, err
	}
	prev, moved := sequencer.Retreat(s.Index)
	if moved {
		s.Index = prev
		s.touch()
	}
	return moved, nil
}

// ReadyToSubmit reports whether every step has been completed.
func (s *Session) ReadyToSubmit() bool {
	if !s.IsLastStep() || s.CurrentKind() != sequencer.StepDocuments {
		return false
	}
	held := s.heldDocuments()
	for _, field := range requiredDocuments {
		if !held[field] {
			return false
		}
	}
	return true
}

// BeginSubmit raises the busy flag before the final submission. The flag
// expires after lease; lease <= 0 holds it until FinishSubmit.
func (s *Session) BeginSubmit(lease time.Duration) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if !s.ReadyToSubmit() {
		return apperrors.NewStepMismatchError(string(s.CurrentKind()), string(sequencer.StepComplete))
	}
	s.Busy = true
	s.BusyUntil = time.Time{}
	if lease > 0 {
		s.BusyUntil = time.Now().UTC().Add(lease)
	}
	s.LastError = nil
	s.touch()
	return nil
}

// FinishSubmit clears the busy flag. A failure keeps index and accumulator
// so the submission can be retried; success closes the session.
func (s *Session) FinishSubmit(err error) {
	s.Busy = false
	s.BusyUntil = time.Time{}
	if err != nil {
		s.LastError = apperrors.Normalize(err)
	} else {
		s.Status = StatusSubmitted
		s.LastError = nil
	}
	s.touch()
}

// Payload is the body of the final create or update call: every
// accumulated scalar field plus the fields derived from the context.
// Documents are sent separately, see Documents.
func (s *Session) Payload() map[string]interface{} {
	payload := s.Accumulator.Values()
	payload["customerType"] = string(s.Context.CustomerType)

	switch {
	case s.Context.IsFranchiseContext:
		payload["franchiseId"] = s.Actor.FranchiseID
	case s.Context.CustomerType == sequencer.CustomerTypeFranchise:
		delete(payload, "franchiseId")
	}

	payload["isApproved"] = !s.Context.IsFranchiseContext
	payload["createdByFranchise"] = s.Context.IsFranchiseContext
	return payload
}

// Documents returns the newly uploaded documents to send with the payload.
// Documents already on file are not re-sent.
func (s *Session) Documents() []DocumentRef {
	var out []DocumentRef
	for _, doc := range s.Accumulator.Documents() {
		if !doc.OnFile {
			out = append(out, doc)
		}
	}
	return out
}

// View is the client projection of a session.
type View struct {
	ID           string                   `json:"id"`
	Status       Status                   `json:"status"`
	CustomerType sequencer.CustomerType   `json:"customerType,omitempty"`
	EditMode     bool                     `json:"editMode"`
	EntityID     string                   `json:"entityId,omitempty"`
	Steps        []sequencer.StepKind     `json:"steps"`
	Index        int                      `json:"index"`
	CurrentStep  sequencer.StepKind       `json:"currentStep"`
	TotalSteps   int                      `json:"totalSteps"`
	CanGoBack    bool                     `json:"canGoBack"`
	IsLastStep   bool                     `json:"isLastStep"`
	Busy         bool                     `json:"busy"`
	Fields       map[string]interface{}   `json:"fields"`
	LastError    *apperrors.StandardError `json:"lastError,omitempty"`
}

func (s *Session) View() View {
	return View{
		ID:           s.ID,
		Status:       s.Status,
		CustomerType: s.Context.CustomerType,
		EditMode:     s.Context.IsEditMode,
		EntityID:     s.EntityID,
		Steps:        s.Plan.Steps,
		Index:        s.Index,
		CurrentStep:  s.CurrentKind(),
		TotalSteps:   s.Plan.Len(),
		CanGoBack:    s.CanGoBack(),
		IsLastStep:   s.IsLastStep(),
		Busy:         s.InFlight(),
		Fields:       s.Accumulator.Summary(),
		LastError:    s.LastError,
	}
}

// heldDocuments lists the documents that need no new upload. An entity
// being edited already has its required documents on file.
func (s *Session) heldDocuments() map[string]bool {
	held := make(map[string]bool)
	if s.Context.IsEditMode {
		for _, field := range requiredDocuments {
			held[field] = true
		}
	}
	for _, doc := range s.Accumulator.Documents() {
		held[doc.Field] = true
	}
	return held
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now().UTC()
}

func stringField(fields map[string]interface{}, name string) string {
	v, _ := fields[name].(string)
	return v
}
