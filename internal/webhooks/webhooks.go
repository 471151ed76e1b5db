// Package webhooks posts a JSON summary of every finished run to the
// configured endpoints.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lherron/couchmig/internal/migrate"
)

const (
	defaultTimeout     = 2 * time.Second
	defaultConcurrency = 4
)

// Payload is the webhook body for a finished run.
type Payload struct {
	migrate.RunSummary
	Errors map[string]string `json:"errors,omitempty"`
}

// NewPayload builds the payload for a run summary.
func NewPayload(summary migrate.RunSummary) Payload {
	p := Payload{RunSummary: summary}
	if len(summary.Errors) > 0 {
		p.Errors = make(map[string]string, len(summary.Errors))
		for _, e := range summary.Errors {
			p.Errors[e.Item] = e.Error.Error()
		}
	}
	return p
}

// Dispatcher sends run payloads to a fixed set of URL templates.
type Dispatcher struct {
	urls        []string
	client      *http.Client
	logger      logrus.FieldLogger
	concurrency int
}

// New returns a dispatcher for the given URL templates. Templates may use
// {run_id} and {op}.
func New(urls []string, logger logrus.FieldLogger) *Dispatcher {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Dispatcher{
		urls:        urls,
		client:      &http.Client{Timeout: defaultTimeout},
		logger:      logger,
		concurrency: defaultConcurrency,
	}
}

// Notify posts the summary to every target and waits for the requests to
// finish. Failures are logged.
func (d *Dispatcher) Notify(ctx context.Context, summary migrate.RunSummary) {
	if d == nil {
		return
	}
	payload := NewPayload(summary)
	d.dispatchURLs(ctx, d.Targets(summary), payload)
}

// Targets templates, normalizes, and de-dupes the URLs for a run.
func (d *Dispatcher) Targets(summary migrate.RunSummary) []string {
	if len(d.urls) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(d.urls))
	var normalized []string

	for _, raw := range d.urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		templated := strings.TrimSpace(applyTemplate(trimmed, summary))
		templated = strings.TrimRight(templated, "/")
		if templated == "" {
			continue
		}
		if !isValidWebhookURL(templated) {
			d.logger.WithField("url", templated).Warn("webhooks: skipping invalid url")
			continue
		}
		if _, ok := seen[templated]; ok {
			continue
		}
		seen[templated] = struct{}{}
		normalized = append(normalized, templated)
	}

	return normalized
}

func applyTemplate(raw string, summary migrate.RunSummary) string {
	result := strings.ReplaceAll(raw, "{run_id}", url.PathEscape(summary.ID))
	result = strings.ReplaceAll(result, "{op}", url.PathEscape(summary.Op))
	return result
}

func isValidWebhookURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Host == "" {
		return false
	}
	return true
}

func (d *Dispatcher) dispatchURLs(ctx context.Context, urls []string, payload Payload) {
	if len(urls) == 0 {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.WithError(err).Error("webhooks: failed to encode payload")
		return
	}

	workers := min(d.concurrency, len(urls))

	jobs := make(chan string)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for endpoint := range jobs {
				d.send(ctx, endpoint, body)
			}
		}()
	}

	for _, endpoint := range urls {
		jobs <- endpoint
	}
	close(jobs)
	wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, endpoint string, body []byte) {
	log := d.logger.WithField("url", endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		log.WithError(err).Warn("webhooks: build request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		log.WithError(err).Warn("webhooks: request failed")
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.WithField("status", resp.StatusCode).Warn("webhooks: endpoint rejected payload")
	}
}
