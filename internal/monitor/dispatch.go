package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultDispatchTimeout bounds one webhook delivery including retries.
const DefaultDispatchTimeout = 10 * time.Second

// Dispatcher delivers a batch of alerts to one destination. Errors are
// logged by the monitor and never fail the cycle.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, alerts []Alert) error
}

// ConsoleDispatcher prints alerts to a writer, one line each.
type ConsoleDispatcher struct {
	Out io.Writer
}

// NewConsoleDispatcher writes to stdout.
func NewConsoleDispatcher() *ConsoleDispatcher {
	return &ConsoleDispatcher{Out: os.Stdout}
}

func (d *ConsoleDispatcher) Name() string { return "console" }

// Dispatch implements Dispatcher.
func (d *ConsoleDispatcher) Dispatch(ctx context.Context, alerts []Alert) error {
	for _, a := range alerts {
		marker := "⚠️"
		if a.Severity == SeverityCritical {
			marker = "🚨"
		}
		if _, err := fmt.Fprintf(d.Out, "%s [%s/%s] %s\n", marker, a.Category, a.Severity, a.Message); err != nil {
			return err
		}
	}
	return nil
}

// WebhookDispatcher POSTs `{"alerts":[...]}` to a URL with retries.
type WebhookDispatcher struct {
	url    string
	client *retryablehttp.Client
}

// NewWebhookDispatcher returns a dispatcher for the given endpoint.
func NewWebhookDispatcher(url string) *WebhookDispatcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = DefaultDispatchTimeout
	client.Logger = nil
	return &WebhookDispatcher{url: url, client: client}
}

func (d *WebhookDispatcher) Name() string { return "webhook" }

// Dispatch implements Dispatcher.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, alerts []Alert) error {
	payload, err := json.Marshal(map[string]interface{}{"alerts": alerts})
	if err != nil {
		return fmt.Errorf("failed to encode alerts: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultDispatchTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// CallbackDispatcher hands alerts to an in-process function.
type CallbackDispatcher struct {
	fn func([]Alert)
}

// NewCallbackDispatcher wraps fn as a dispatcher.
func NewCallbackDispatcher(fn func([]Alert)) *CallbackDispatcher {
	return &CallbackDispatcher{fn: fn}
}

func (d *CallbackDispatcher) Name() string { return "callback" }

// Dispatch implements Dispatcher.
func (d *CallbackDispatcher) Dispatch(ctx context.Context, alerts []Alert) error {
	d.fn(alerts)
	return nil
}
