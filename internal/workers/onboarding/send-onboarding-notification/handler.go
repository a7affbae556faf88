// internal/workers/onboarding/send-onboarding-notification/handler.go
package sendonboardingnotification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	apperrors "merchant-onboarding/internal/common/errors"
	"merchant-onboarding/internal/common/logger"
	"merchant-onboarding/internal/common/metrics"
	"merchant-onboarding/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
)

const (
	TaskType = "send-onboarding-notification"
)

// EmailSender is satisfied by aws.Mailer.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) (string, error)
}

// SMSSender is satisfied by aws.SMSSender.
type SMSSender interface {
	Send(ctx context.Context, phone, message string) (string, error)
}

type messageTemplate struct {
	Subject string
	Body    string
}

type Handler struct {
	config       *Config
	db           *sql.DB
	logger       logger.Logger
	mailer       EmailSender
	sms          SMSSender
	errorHandler *apperrors.ErrorHandler
	templates    map[string]messageTemplate
}

// NewHandler wires the worker. db may be nil, in which case franchise
// contacts cannot be resolved and submission receipts are skipped.
func NewHandler(config *Config, db *sql.DB, mailer EmailSender, sms SMSSender, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		db:           db,
		logger:       log,
		mailer:       mailer,
		sms:          sms,
		errorHandler: apperrors.NewErrorHandler(log),
		templates:    defaultTemplates(),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, apperrors.NewInvalidRequestError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	tmpl, ok := h.templates[input.NotificationType]
	if !ok {
		return nil, apperrors.NewInvalidRequestError(fmt.Sprintf("unknown notification type %q", input.NotificationType))
	}

	email, phone, err := h.recipient(ctx, input)
	if err != nil {
		return nil, err
	}

	output := &Output{
		NotificationID: uuid.New().String(),
		Status:         StatusDisabled,
		Channels:       []string{},
		SentAt:         time.Now().UTC().Format(time.RFC3339),
	}

	data := map[string]interface{}{
		"entityId":     input.EntityID,
		"customerType": input.CustomerType,
		"businessName": input.BusinessName,
		"contactName":  input.ContactName,
		"franchiseId":  input.FranchiseID,
	}
	for k, v := range input.Metadata {
		data[k] = v
	}

	subject := renderTemplate(tmpl.Subject, data)
	body := renderTemplate(tmpl.Body, data)

	if email != "" && !validation.ValidateEmail(email) {
		h.logger.Warn("invalid recipient email, skipping", map[string]interface{}{"entityId": input.EntityID})
		email = ""
	}
	if phone != "" && !validation.ValidatePhone(phone) {
		h.logger.Warn("invalid recipient phone, skipping", map[string]interface{}{"entityId": input.EntityID})
		phone = ""
	}

	if h.config.EmailEnabled && h.mailer != nil && email != "" {
		if _, err := h.mailer.Send(ctx, email, subject, body); err != nil {
			return nil, apperrors.NewNotificationSendFailedError(input.NotificationType, err)
		}
		output.Channels = append(output.Channels, ChannelEmail)
	}

	if h.config.SMSEnabled && h.sms != nil && phone != "" && (input.Priority == PriorityHigh || input.NotificationType == TypeApprovalRequested) {
		if _, err := h.sms.Send(ctx, phone, body); err != nil {
			// A retry would resend the email as well.
			if len(output.Channels) == 0 {
				return nil, apperrors.NewNotificationSendFailedError(input.NotificationType, err)
			}
			h.logger.Warn("SMS send failed", map[string]interface{}{
				"error":    err,
				"entityId": input.EntityID,
			})
		} else {
			output.Channels = append(output.Channels, ChannelSMS)
		}
	}

	if len(output.Channels) > 0 {
		output.Status = StatusSent
	}

	h.logger.Info("notification processed", map[string]interface{}{
		"notificationType": input.NotificationType,
		"entityId":         input.EntityID,
		"status":           output.Status,
		"channels":         output.Channels,
	})
	return output, nil
}

// recipient resolves who the message goes to. Approval requests go to the
// configured approvers, submission receipts to the franchise that
// registered the merchant, everything else to the applicant.
func (h *Handler) recipient(ctx context.Context, input *Input) (string, string, error) {
	switch input.NotificationType {
	case TypeApprovalRequested:
		if h.config.ApproverEmail == "" && h.config.ApproverPhone == "" {
			h.logger.Warn("no approver contact configured", map[string]interface{}{"entityId": input.EntityID})
		}
		return h.config.ApproverEmail, h.config.ApproverPhone, nil
	case TypeSubmissionReceived:
	default:
		return input.Email, input.Phone, nil
	}
	if input.FranchiseID == "" || h.db == nil {
		return "", "", nil
	}

	var email, phone sql.NullString
	err := h.db.QueryRowContext(ctx,
		`SELECT email, phone FROM franchises WHERE id = $1`,
		input.FranchiseID,
	).Scan(&email, &phone)
	if errors.Is(err, sql.ErrNoRows) {
		h.logger.Warn("franchise not found", map[string]interface{}{"franchiseId": input.FranchiseID})
		return "", "", nil
	}
	if err != nil {
		return "", "", apperrors.NewQueryExecutionFailedError("franchise_contact", err)
	}
	return email.String, phone.String, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
	}
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	stdErr := apperrors.Normalize(err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// renderTemplate substitutes {{key}} placeholders; unknown keys render empty.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		v, ok := data[key]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

func defaultTemplates() map[string]messageTemplate {
	return map[string]messageTemplate{
		TypeOnboardingSubmitted: {
			Subject: "We received your {{customerType}} registration",
			Body:    "Hello {{contactName}}, the registration for {{businessName}} ({{entityId}}) has been received.",
		},
		TypeSubmissionReceived: {
			Subject: "{{businessName}} was submitted for approval",
			Body:    "The merchant {{businessName}} ({{entityId}}) you registered has been submitted and is awaiting approval.",
		},
		TypeApprovalRequested: {
			Subject: "Merchant {{businessName}} is awaiting approval",
			Body:    "The merchant {{businessName}} ({{entityId}}) registered under franchise {{franchiseId}} is awaiting approval.",
		},
		TypeOnboardingApproved: {
			Subject: "{{businessName}} has been approved",
			Body:    "Hello {{contactName}}, {{businessName}} ({{entityId}}) is now approved. {{note}}",
		},
		TypeOnboardingRejected: {
			Subject: "{{businessName}} could not be approved",
			Body:    "Hello {{contactName}}, {{businessName}} ({{entityId}}) was not approved. Reason: {{reason}}",
		},
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
