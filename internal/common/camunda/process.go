// internal/common/camunda/process.go
package camunda

import (
	"context"

	"merchant-onboarding/internal/common/errors"
	"merchant-onboarding/internal/common/logger"
)

// ProcessStarter starts instances of the approval process for submitted
// onboardings.
type ProcessStarter struct {
	client    *Client
	processID string
	logger    logger.Logger
}

func NewProcessStarter(client *Client, processID string, log logger.Logger) *ProcessStarter {
	return &ProcessStarter{
		client:    client,
		processID: processID,
		logger:    log.WithFields(map[string]interface{}{"processId": processID}),
	}
}

func (p *ProcessStarter) ProcessID() string {
	return p.processID
}

// StartApproval creates an approval instance carrying vars and returns its key.
func (p *ProcessStarter) StartApproval(ctx context.Context, vars map[string]interface{}) (int64, error) {
	key, err := p.client.CreateInstance(ctx, p.processID, vars)
	if err != nil {
		p.logger.Error("failed to start approval", map[string]interface{}{
			"entityId": vars["entityId"],
			"error":    err,
		})
		return 0, errors.NewProcessStartFailedError(p.processID, err)
	}

	p.logger.Info("approval started", map[string]interface{}{
		"entityId":           vars["entityId"],
		"processInstanceKey": key,
	})
	return key, nil
}
