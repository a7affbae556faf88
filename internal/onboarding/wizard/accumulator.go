// internal/onboarding/wizard/accumulator.go
package wizard

import (
	"sort"

	"merchant-onboarding/internal/onboarding/sequencer"
)

// DocumentRef is an uploaded file held until final submission.
type DocumentRef struct {
	Field       string `json:"field"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Data        []byte `json:"data,omitempty"`
	// OnFile marks a document that already exists on the backend (edit mode).
	OnFile bool `json:"onFile,omitempty"`
}

// DocumentSummary is the client-facing view of a document.
type DocumentSummary struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	OnFile      bool   `json:"onFile,omitempty"`
}

func (d DocumentRef) Summary() DocumentSummary {
	return DocumentSummary{FileName: d.FileName, ContentType: d.ContentType, Size: d.Size, OnFile: d.OnFile}
}

// Entry is one accumulated field and the step that contributed it. Step is
// empty for prefilled fields no step declares.
type Entry struct {
	Value    interface{}        `json:"value"`
	Document *DocumentRef       `json:"document,omitempty"`
	Step     sequencer.StepKind `json:"step,omitempty"`
}

// Accumulator collects form values across steps. Merges are shallow: a
// later submission of a field overwrites the earlier value.
type Accumulator struct {
	Fields map[string]Entry `json:"fields"`
}

func NewAccumulator() *Accumulator {
	return &Accumulator{Fields: make(map[string]Entry)}
}

// Merge records the values and documents of one step submission.
func (a *Accumulator) Merge(step sequencer.StepKind, values map[string]interface{}, docs []DocumentRef) {
	if a.Fields == nil {
		a.Fields = make(map[string]Entry)
	}
	for name, value := range values {
		a.Fields[name] = Entry{Value: value, Step: step}
	}
	for i := range docs {
		doc := docs[i]
		a.Fields[doc.Field] = Entry{Document: &doc, Step: step}
	}
}

// Prefill seeds the accumulator from an existing entity. Fields are
// attributed to the step whose schema declares them.
func (a *Accumulator) Prefill(values map[string]interface{}) {
	if a.Fields == nil {
		a.Fields = make(map[string]Entry)
	}
	for name, value := range values {
		step := StepForField(name)
		if step == sequencer.StepDocuments {
			if fileName, ok := value.(string); ok && fileName != "" {
				a.Fields[name] = Entry{
					Document: &DocumentRef{Field: name, FileName: fileName, OnFile: true},
					Step:     step,
				}
			}
			continue
		}
		a.Fields[name] = Entry{Value: value, Step: step}
	}
}

// Reconcile drops fields contributed by steps that are no longer part of
// plan. It returns the names of the dropped fields in sorted order.
func (a *Accumulator) Reconcile(plan sequencer.StepPlan) []string {
	var dropped []string
	for name, entry := range a.Fields {
		if entry.Step == "" || plan.Contains(entry.Step) {
			continue
		}
		delete(a.Fields, name)
		dropped = append(dropped, name)
	}
	sort.Strings(dropped)
	return dropped
}

// Get returns the scalar value of a field.
func (a *Accumulator) Get(name string) (interface{}, bool) {
	entry, ok := a.Fields[name]
	if !ok || entry.Document != nil {
		return nil, false
	}
	return entry.Value, true
}

// String returns a field as a string, or "" when absent or not a string.
func (a *Accumulator) String(name string) string {
	v, _ := a.Get(name)
	s, _ := v.(string)
	return s
}

// Has reports whether the field is present, scalar or document.
func (a *Accumulator) Has(name string) bool {
	_, ok := a.Fields[name]
	return ok
}

// Values returns a copy of every scalar field.
func (a *Accumulator) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(a.Fields))
	for name, entry := range a.Fields {
		if entry.Document == nil {
			out[name] = entry.Value
		}
	}
	return out
}

// Documents returns the documents sorted by field name.
func (a *Accumulator) Documents() []DocumentRef {
	var docs []DocumentRef
	for _, entry := range a.Fields {
		if entry.Document != nil {
			docs = append(docs, *entry.Document)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Field < docs[j].Field })
	return docs
}

// Len returns the number of accumulated fields.
func (a *Accumulator) Len() int {
	return len(a.Fields)
}

// Summary renders the fields for clients, replacing document bytes with
// their metadata.
func (a *Accumulator) Summary() map[string]interface{} {
	out := make(map[string]interface{}, len(a.Fields))
	for name, entry := range a.Fields {
		if entry.Document != nil {
			out[name] = entry.Document.Summary()
			continue
		}
		out[name] = entry.Value
	}
	return out
}
