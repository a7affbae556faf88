// internal/models/franchise.go
package models

// FranchiseOption is one entry of the franchise picker shown while
// onboarding a merchant.
type FranchiseOption struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Franchise is the directory row behind a FranchiseOption.
type Franchise struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	LegalName   string `json:"legalName,omitempty"`
	City        string `json:"city,omitempty"`
	Status      string `json:"status"`
}

// Option projects a franchise to its picker entry.
func (f Franchise) Option() FranchiseOption {
	return FranchiseOption{ID: f.ID, DisplayName: f.DisplayName}
}
