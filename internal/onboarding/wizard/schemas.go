// internal/onboarding/wizard/schemas.go
package wizard

import (
	"fmt"
	"strings"

	apperrors "merchant-onboarding/internal/common/errors"
	"merchant-onboarding/internal/common/validation"
	"merchant-onboarding/internal/onboarding/sequencer"
)

// Document fields of the documents step.
const (
	DocPANCard         = "panCard"
	DocAddressProof    = "addressProof"
	DocCancelledCheque = "cancelledCheque"
)

var (
	requiredDocuments = []string{DocPANCard, DocAddressProof}
	documentFields    = []string{DocPANCard, DocAddressProof, DocCancelledCheque}

	allowedContentTypes = map[string]bool{
		"application/pdf": true,
		"image/jpeg":      true,
		"image/png":       true,
	}
)

func text(min, max int) validation.Property {
	return validation.Property{Type: "string", MinLength: validation.IntPtr(min), MaxLength: validation.IntPtr(max)}
}

func closed(required []string, props map[string]validation.Property) validation.JSONSchema {
	return validation.JSONSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: validation.BoolPtr(false),
	}
}

// stepSchemas holds the scalar field rules of every step.
var stepSchemas = map[sequencer.StepKind]validation.JSONSchema{
	sequencer.StepCustomerType: closed([]string{"customerType"}, map[string]validation.Property{
		"customerType": {
			Type: "string",
			Enum: []string{string(sequencer.CustomerTypeFranchise), string(sequencer.CustomerTypeMerchant)},
		},
	}),
	sequencer.StepFranchise: closed([]string{"franchiseId"}, map[string]validation.Property{
		"franchiseId": text(1, 64),
	}),
	sequencer.StepBasic: closed([]string{"businessName", "legalName", "businessType"}, map[string]validation.Property{
		"businessName": text(2, 120),
		"legalName":    text(2, 160),
		"businessType": {
			Type: "string",
			Enum: []string{"proprietorship", "partnership", "private_limited", "public_limited", "llp", "other"},
		},
		"registrationNumber": text(0, 64),
		"gstNumber": {
			Type:    "string",
			Pattern: `^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][1-9A-Z]Z[0-9A-Z]$`,
		},
	}),
	sequencer.StepContact: closed(
		[]string{"contactName", "email", "phone", "address", "city", "state", "postalCode"},
		map[string]validation.Property{
			"contactName": text(2, 120),
			"email":       {Type: "string", Format: "email", MaxLength: validation.IntPtr(254)},
			"phone":       {Type: "string", Pattern: `^\+?[0-9][0-9 \-]{8,18}$`},
			"address":     text(5, 300),
			"city":        text(2, 80),
			"state":       text(2, 80),
			"postalCode":  {Type: "string", Pattern: `^[0-9A-Za-z \-]{4,10}$`},
		},
	),
	sequencer.StepBank: closed(
		[]string{"accountHolderName", "bankName", "accountNumber", "ifscCode"},
		map[string]validation.Property{
			"accountHolderName": text(2, 120),
			"bankName":          text(2, 120),
			"accountNumber":     {Type: "string", Pattern: `^[0-9]{6,20}$`},
			"ifscCode":          {Type: "string", Pattern: `^[A-Z]{4}0[A-Z0-9]{6}$`},
		},
	),
	sequencer.StepDocuments: closed(nil, map[string]validation.Property{}),
}

var fieldSteps = func() map[string]sequencer.StepKind {
	out := make(map[string]sequencer.StepKind)
	for kind, schema := range stepSchemas {
		for name := range schema.Properties {
			out[name] = kind
		}
	}
	for _, name := range documentFields {
		out[name] = sequencer.StepDocuments
	}
	return out
}()

// StepForField returns the step that declares a field, or "" when none does.
func StepForField(name string) sequencer.StepKind {
	return fieldSteps[name]
}

// Input is one step submission.
type Input struct {
	Fields    map[string]interface{}
	Documents []DocumentRef
	// Held lists documents the session already holds; they satisfy the
	// required-document rule without a new upload.
	Held map[string]bool
}

// Validator checks a step submission and returns field-level errors.
type Validator interface {
	Validate(kind sequencer.StepKind, in Input) []apperrors.FieldError
}

// SchemaValidator validates step fields with compiled JSON schemas and
// documents with size and content type rules.
type SchemaValidator struct {
	schemas          map[sequencer.StepKind]*validation.Validator
	maxDocumentBytes int64
}

// NewSchemaValidator compiles the step schemas. maxDocumentBytes <= 0
// disables the size limit.
func NewSchemaValidator(maxDocumentBytes int64) (*SchemaValidator, error) {
	compiled := make(map[sequencer.StepKind]*validation.Validator, len(stepSchemas))
	for kind, schema := range stepSchemas {
		v, err := validation.Compile(schema)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", kind, err)
		}
		compiled[kind] = v
	}
	return &SchemaValidator{schemas: compiled, maxDocumentBytes: maxDocumentBytes}, nil
}

func (v *SchemaValidator) Validate(kind sequencer.StepKind, in Input) []apperrors.FieldError {
	schema, ok := v.schemas[kind]
	if !ok {
		return []apperrors.FieldError{{Field: "step", Code: "UNKNOWN_STEP", Message: fmt.Sprintf("unknown step %q", kind)}}
	}

	var out []apperrors.FieldError
	if result := schema.Validate(in.Fields); !result.Valid {
		for _, e := range result.Errors {
			out = append(out, apperrors.FieldError{Field: e.Field, Code: e.Code, Message: e.Message})
		}
	}

	if kind == sequencer.StepDocuments {
		out = append(out, v.validateDocuments(in)...)
	} else {
		for _, doc := range in.Documents {
			out = append(out, apperrors.FieldError{
				Field: doc.Field, Code: "UNEXPECTED_DOCUMENT", Message: "documents are only accepted on the documents step",
			})
		}
	}
	return out
}

func (v *SchemaValidator) validateDocuments(in Input) []apperrors.FieldError {
	var out []apperrors.FieldError
	seen := make(map[string]bool, len(in.Documents))

	for _, doc := range in.Documents {
		seen[doc.Field] = true
		switch {
		case StepForField(doc.Field) != sequencer.StepDocuments:
			out = append(out, apperrors.FieldError{Field: doc.Field, Code: "UNKNOWN_DOCUMENT", Message: "unknown document field"})
		case doc.Size <= 0:
			out = append(out, apperrors.FieldError{Field: doc.Field, Code: "EMPTY_FILE", Message: "file is empty"})
		case v.maxDocumentBytes > 0 && doc.Size > v.maxDocumentBytes:
			out = append(out, apperrors.FieldError{
				Field: doc.Field, Code: "FILE_TOO_LARGE",
				Message: fmt.Sprintf("file exceeds %d bytes", v.maxDocumentBytes),
			})
		case !allowedContentTypes[baseContentType(doc.ContentType)]:
			out = append(out, apperrors.FieldError{
				Field: doc.Field, Code: "UNSUPPORTED_CONTENT_TYPE",
				Message: "only pdf, jpeg and png files are accepted",
			})
		}
	}

	for _, field := range requiredDocuments {
		if !seen[field] && !in.Held[field] {
			out = append(out, apperrors.FieldError{Field: field, Code: "REQUIRED_FIELD_MISSING", Message: field + " is required"})
		}
	}
	return out
}

func baseContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// normalizeFields trims string values. A blank string is kept: it clears
// a value recorded earlier.
func normalizeFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for name, value := range fields {
		if s, ok := value.(string); ok {
			value = strings.TrimSpace(s)
		}
		out[name] = value
	}
	return out
}

// presentFields drops blank strings so schemas treat them as absent.
func presentFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for name, value := range fields {
		if s, ok := value.(string); ok && s == "" {
			continue
		}
		out[name] = value
	}
	return out
}
