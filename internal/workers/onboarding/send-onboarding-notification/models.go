// internal/workers/onboarding/send-onboarding-notification/models.go
package sendonboardingnotification

// Input mirrors the variables the approval process carries.
type Input struct {
	NotificationType string                 `json:"notificationType"`
	EntityID         string                 `json:"entityId"`
	CustomerType     string                 `json:"customerType"`
	BusinessName     string                 `json:"businessName"`
	ContactName      string                 `json:"contactName,omitempty"`
	Email            string                 `json:"email,omitempty"`
	Phone            string                 `json:"phone,omitempty"`
	FranchiseID      string                 `json:"franchiseId,omitempty"`
	Priority         string                 `json:"priority,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

type Output struct {
	NotificationID string   `json:"notificationId"`
	Status         string   `json:"status"` // "sent", "disabled"
	Channels       []string `json:"channels"`
	SentAt         string   `json:"sentAt"` // ISO 8601
}

// Notification types
const (
	TypeOnboardingSubmitted = "onboarding_submitted"
	TypeSubmissionReceived  = "submission_received"
	TypeApprovalRequested   = "approval_requested"
	TypeOnboardingApproved  = "onboarding_approved"
	TypeOnboardingRejected  = "onboarding_rejected"
)

// Statuses
const (
	StatusSent     = "sent"
	StatusDisabled = "disabled"
)

// Channels
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

const PriorityHigh = "high"
