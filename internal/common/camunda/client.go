// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"merchant-onboarding/internal/common/config"
	"merchant-onboarding/internal/common/errors"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// Client is the onboarding service's connection to the Zeebe gateway. It
// starts approval instances and hosts the notification job worker.
type Client struct {
	zb     zbc.Client
	config *ClientConfig
	create createFunc
}

type createFunc func(ctx context.Context, processID string, vars map[string]interface{}) (int64, error)

// ClientConfig holds gateway settings.
type ClientConfig struct {
	GatewayAddress string
	Plaintext      bool
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Backoff        Backoff
}

// Backoff bounds retries of transient gateway failures. Attempts counts
// the first call.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

var defaultBackoff = Backoff{Attempts: 4, Base: time.Second, Max: 10 * time.Second}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Base * time.Duration(1<<attempt)
	if d > b.Max {
		return b.Max
	}
	return d
}

// ConfigFrom maps the camunda config section onto client settings. The
// gateway runs inside the cluster network, so connections are plaintext.
func ConfigFrom(cfg config.CamundaConfig) *ClientConfig {
	c := &ClientConfig{
		GatewayAddress: cfg.BrokerAddress,
		Plaintext:      true,
		DialTimeout:    config.GetDuration(cfg.Timeout),
		RequestTimeout: config.GetDuration(cfg.RequestTimeout),
		Backoff:        defaultBackoff,
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}

// Dial connects to the gateway and fails unless it answers a topology
// request within DialTimeout.
func Dial(cfg *ClientConfig) (*Client, error) {
	if cfg.Backoff.Attempts <= 0 {
		cfg.Backoff = defaultBackoff
	}

	zb, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         cfg.GatewayAddress,
		UsePlaintextConnection: cfg.Plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	c := &Client{zb: zb, config: cfg}
	c.create = c.createInstance

	if err := c.Ping(context.Background()); err != nil {
		zb.Close()
		return nil, fmt.Errorf("zeebe gateway %s unreachable: %w", cfg.GatewayAddress, err)
	}
	return c, nil
}

// Ping sends a topology request. It backs the /health check.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	if _, err := c.zb.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe topology: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.zb.Close()
}

// CreateInstance starts the latest deployed version of processID and
// returns the instance key. Transient failures are retried with backoff;
// the final error is an application error.
func (c *Client) CreateInstance(ctx context.Context, processID string, vars map[string]interface{}) (int64, error) {
	var key int64
	err := c.retry(ctx, "create instance of "+processID, func(ctx context.Context) error {
		var err error
		key, err = c.create(ctx, processID, vars)
		return err
	})
	return key, err
}

func (c *Client) createInstance(ctx context.Context, processID string, vars map[string]interface{}) (int64, error) {
	cmd, err := c.zb.NewCreateInstanceCommand().
		BPMNProcessId(processID).
		LatestVersion().
		VariablesFromMap(vars)
	if err != nil {
		return 0, fmt.Errorf("encode variables: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	resp, err := cmd.Send(ctx)
	if err != nil {
		return 0, err
	}
	return resp.GetProcessInstanceKey(), nil
}

func (c *Client) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	b := c.config.Backoff
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !transient(err) || attempt+1 >= b.Attempts {
			return classify(op, attempt+1, err)
		}

		select {
		case <-time.After(b.delay(attempt)):
		case <-ctx.Done():
			return errors.NewTimeoutError("zeebe", fmt.Errorf("%s: %w", op, ctx.Err()))
		}
	}
}

var transientPhrases = []string{
	"connection refused",
	"connection reset",
	"unavailable",
	"unreachable",
	"broken pipe",
	"timeout",
	"deadline exceeded",
	"resource exhausted",
}

// transient reports whether the gateway error is worth another attempt.
// Backpressure surfaces as RESOURCE_EXHAUSTED.
func transient(err error) bool {
	return containsAny(strings.ToLower(err.Error()), transientPhrases...)
}

// classify converts a gateway error into an application error.
func classify(op string, attempts int, err error) error {
	msg := strings.ToLower(err.Error())
	wrapped := fmt.Errorf("zeebe %s failed after %d attempt(s): %w", op, attempts, err)

	switch {
	case containsAny(msg, "timeout", "deadline exceeded"):
		return errors.NewTimeoutError("zeebe", wrapped)
	case containsAny(msg, "not found"):
		return errors.NewResourceNotFoundError("zeebe", wrapped.Error())
	case containsAny(msg, "already exists"):
		return errors.NewBusinessRuleError(wrapped.Error(), "Process instance already exists")
	case containsAny(msg, "permission denied", "unauthorized", "unauthenticated"):
		return errors.NewAuthenticationError(wrapped.Error())
	default:
		return errors.NewExternalServiceError("zeebe", wrapped)
	}
}

func containsAny(s string, phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
