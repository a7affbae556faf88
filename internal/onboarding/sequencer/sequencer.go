// internal/onboarding/sequencer/sequencer.go

// Package sequencer computes the ordered onboarding wizard steps for a
// session and the navigation rules between them.
package sequencer

import (
	"errors"
	"fmt"
	"strings"
)

// CustomerType is the kind of entity being onboarded.
type CustomerType string

const (
	CustomerTypeUnset     CustomerType = ""
	CustomerTypeFranchise CustomerType = "franchise"
	CustomerTypeMerchant  CustomerType = "merchant"
)

// StepKind identifies one wizard screen.
type StepKind string

const (
	StepCustomerType StepKind = "customerType"
	StepFranchise    StepKind = "franchise"
	StepBasic        StepKind = "basic"
	StepContact      StepKind = "contact"
	StepBank         StepKind = "bank"
	StepDocuments    StepKind = "documents"
	// StepComplete is the review view shown after a successful submission.
	// It never appears in a computed plan.
	StepComplete StepKind = "complete"
)

// User types the gateway forwards for the acting user.
const (
	UserTypeAdmin     = "admin"
	UserTypeFranchise = "franchise"
)

var ErrInvalidCustomerType = errors.New("INVALID_CUSTOMER_TYPE")

// Actor is the user driving the wizard.
type Actor struct {
	UserType    string `json:"userType"`
	FranchiseID string `json:"franchiseId,omitempty"`
}

// IsFranchise reports whether the actor is a franchise onboarding a merchant
// under itself.
func (a Actor) IsFranchise() bool {
	return a.UserType == UserTypeFranchise && a.FranchiseID != ""
}

// WizardContext holds the inputs that decide the step plan.
type WizardContext struct {
	IsFranchiseContext bool         `json:"isFranchiseContext"`
	IsEditMode         bool         `json:"isEditMode"`
	CustomerType       CustomerType `json:"customerType"`
}

// NewContext builds the wizard context for an actor. A franchise actor always
// onboards merchants, so the customer type is pinned.
func NewContext(actor Actor, editMode bool, customerType CustomerType) WizardContext {
	ctx := WizardContext{
		IsFranchiseContext: actor.IsFranchise(),
		IsEditMode:         editMode,
		CustomerType:       customerType,
	}
	if ctx.IsFranchiseContext {
		ctx.CustomerType = CustomerTypeMerchant
	}
	return ctx
}

// WithCustomerType returns a copy of the context with the customer type set.
func (c WizardContext) WithCustomerType(ct CustomerType) WizardContext {
	c.CustomerType = ct
	return c
}

// StepPlan is the ordered list of steps for a context.
type StepPlan struct {
	Steps []StepKind `json:"steps"`
}

// Len returns the number of steps.
func (p StepPlan) Len() int {
	return len(p.Steps)
}

// At returns the step at the 1-based index.
func (p StepPlan) At(index int) (StepKind, bool) {
	if index < 1 || index > len(p.Steps) {
		return "", false
	}
	return p.Steps[index-1], true
}

// IndexOf returns the 1-based index of kind, or 0 when absent.
func (p StepPlan) IndexOf(kind StepKind) int {
	for i, k := range p.Steps {
		if k == kind {
			return i + 1
		}
	}
	return 0
}

// Contains reports whether kind is part of the plan.
func (p StepPlan) Contains(kind StepKind) bool {
	return p.IndexOf(kind) > 0
}

// Equal compares two plans step by step.
func (p StepPlan) Equal(other StepPlan) bool {
	if len(p.Steps) != len(other.Steps) {
		return false
	}
	for i := range p.Steps {
		if p.Steps[i] != other.Steps[i] {
			return false
		}
	}
	return true
}

func (p StepPlan) String() string {
	parts := make([]string, len(p.Steps))
	for i, k := range p.Steps {
		parts[i] = string(k)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ComputePlan derives the step plan from the wizard context.
func ComputePlan(ctx WizardContext) StepPlan {
	details := []StepKind{StepBasic, StepContact, StepBank, StepDocuments}

	switch {
	case ctx.IsFranchiseContext, ctx.IsEditMode:
		return StepPlan{Steps: details}
	case ctx.CustomerType == CustomerTypeFranchise:
		return StepPlan{Steps: append([]StepKind{StepCustomerType}, details...)}
	case ctx.CustomerType == CustomerTypeMerchant:
		return StepPlan{Steps: append([]StepKind{StepCustomerType, StepFranchise}, details...)}
	default:
		return StepPlan{Steps: []StepKind{StepCustomerType}}
	}
}

// InitialIndex is the index a new session starts on.
func InitialIndex(StepPlan) int {
	return 1
}

// Advance moves one step forward. When current is already the last step the
// index stays there and submit is true: the caller submits instead of
// navigating.
func Advance(current int, plan StepPlan) (next int, submit bool) {
	last := plan.Len()
	if last == 0 {
		return 1, false
	}
	if current >= last {
		return last, true
	}
	if current < 1 {
		return 1, false
	}
	return current + 1, false
}

// Retreat moves one step back. It is suppressed at the first step.
func Retreat(current int) (prev int, moved bool) {
	if current <= 1 {
		return 1, false
	}
	return current - 1, true
}

// ClampIndex keeps index within [1, plan.Len()].
func ClampIndex(index int, plan StepPlan) int {
	if index < 1 {
		return 1
	}
	if n := plan.Len(); n > 0 && index > n {
		return n
	}
	return index
}

// ParseCustomerType validates a customer type coming from a client.
func ParseCustomerType(s string) (CustomerType, error) {
	switch CustomerType(strings.ToLower(strings.TrimSpace(s))) {
	case CustomerTypeFranchise:
		return CustomerTypeFranchise, nil
	case CustomerTypeMerchant:
		return CustomerTypeMerchant, nil
	case CustomerTypeUnset:
		return CustomerTypeUnset, nil
	}
	return CustomerTypeUnset, fmt.Errorf("%w: %q", ErrInvalidCustomerType, s)
}

// ParseStepKind validates a step kind path segment.
func ParseStepKind(s string) (StepKind, bool) {
	switch k := StepKind(s); k {
	case StepCustomerType, StepFranchise, StepBasic, StepContact, StepBank, StepDocuments:
		return k, true
	}
	return "", false
}
