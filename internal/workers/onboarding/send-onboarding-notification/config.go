// internal/workers/onboarding/send-onboarding-notification/config.go
package sendonboardingnotification

import (
	"time"

	"merchant-onboarding/internal/common/config"
)

type Config struct {
	EmailEnabled  bool
	SMSEnabled    bool
	FromEmail     string
	AWSRegion     string
	SMSSenderID   string
	ApproverEmail string
	ApproverPhone string
	MaxJobsActive int
	Timeout       time.Duration
}

// LoadConfig derives the worker settings from the application config.
func LoadConfig(cfg *config.Config) *Config {
	c := &Config{
		EmailEnabled:  cfg.Notifications.Email.Enabled && cfg.Integrations.AWS.SES.Enabled,
		SMSEnabled:    cfg.Notifications.SMS.Enabled && cfg.Integrations.AWS.SNS.Enabled,
		FromEmail:     cfg.Notifications.Email.FromEmail,
		AWSRegion:     cfg.Integrations.AWS.Region,
		SMSSenderID:   cfg.Integrations.AWS.SNS.DefaultSMSSenderID,
		ApproverEmail: cfg.Notifications.Approvals.Email,
		ApproverPhone: cfg.Notifications.Approvals.Phone,
		MaxJobsActive: 5,
		Timeout:       30 * time.Second,
	}
	if c.FromEmail == "" {
		c.FromEmail = cfg.Integrations.AWS.SES.FromEmail
	}

	wc := config.GetWorkerConfig(cfg, TaskType)
	if wc.MaxJobsActive > 0 {
		c.MaxJobsActive = wc.MaxJobsActive
	}
	if wc.Timeout > 0 {
		c.Timeout = config.GetDuration(wc.Timeout)
	}
	return c
}
