// Package httpjob turns configured HTTP endpoints into queue processors.
package httpjob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	adaptq "github.com/UniQw/adaptq-go"
	"github.com/UniQw/adaptq-go/internal/config"
)

// maxResponse bounds how much of a successful response body is kept.
const maxResponse = 1 << 20

// Processor sends job payloads to a single endpoint.
type Processor struct {
	client  *http.Client
	cfg     config.HandlerConfig
	host    string
	encoder adaptq.Encoder
}

// New creates a processor for cfg. A nil client uses http.DefaultClient.
func New(client *http.Client, cfg config.HandlerConfig) (*Processor, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("handler %s: invalid url: %w", cfg.Type, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("handler %s: url %q has no host", cfg.Type, cfg.URL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Processor{client: client, cfg: cfg, host: u.Host, encoder: &adaptq.JSONEncoder{}}, nil
}

// Host returns the upstream host, which names the processor's breaker.
func (p *Processor) Host() string { return p.host }

// Process sends one request. 2xx and 3xx responses succeed with the body as
// result (json.RawMessage when it is valid JSON, string otherwise); other
// statuses fail with the classified *adaptq.Error.
func (p *Processor) Process(ctx context.Context, job *adaptq.Job) (any, error) {
	body, err := p.body(job.Payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, p.cfg.Method, p.cfg.URL, body)
	if err != nil {
		return nil, adaptq.Wrap(adaptq.KindValidation, err)
	}
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Idempotency-Key", job.ID)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := adaptq.CheckResponse(resp); err != nil {
		return nil, err
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, adaptq.Wrap(adaptq.KindNetwork, err)
	}
	adaptq.SetProgress(ctx, 100)
	if len(b) == 0 {
		return nil, nil
	}
	if json.Valid(b) {
		return json.RawMessage(b), nil
	}
	return string(b), nil
}

func (p *Processor) body(payload any) (io.Reader, error) {
	if p.cfg.Method == http.MethodGet || p.cfg.Method == http.MethodHead {
		return nil, nil
	}
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return bytes.NewReader(v), nil
	case json.RawMessage:
		return bytes.NewReader(v), nil
	case string:
		return bytes.NewReader([]byte(v)), nil
	}
	b, err := p.encoder.Encode(payload)
	if err != nil {
		return nil, adaptq.Wrap(adaptq.KindValidation, err)
	}
	return bytes.NewReader(b), nil
}

// notCircuitOpen keeps in-place retries away from open circuits; the queue
// retries those with the slot released.
func notCircuitOpen(err error, _ int) bool {
	return adaptq.IsRetryable(err) && !errors.Is(err, adaptq.ErrCircuitOpen)
}

// Register installs a processor on m for every handler. Each request goes
// through the breaker of its host; the handler timeout bounds the whole
// attempt including in-place retries.
func Register(m *adaptq.Mux, breakers *adaptq.Breakers, client *http.Client, handlers []config.HandlerConfig, log adaptq.Logger) error {
	for _, h := range handlers {
		p, err := New(client, h)
		if err != nil {
			return err
		}
		proc := adaptq.Guard(breakers.Get(p.Host()))(p.Process)
		if h.Retry.MaxRetries > 0 {
			jobType := h.Type
			proc = adaptq.WithRetry(h.Retry.Adaptq(),
				adaptq.RetryIf(notCircuitOpen),
				adaptq.OnRetry(func(attempt int, err error, delay time.Duration) {
					log.Debugf("%s: request attempt %d failed, retrying in %s: %v", jobType, attempt, delay, err)
				}),
			)(proc)
		}
		m.Handle(h.Type, adaptq.Timeout(h.Timeout)(proc))
		log.Infof("handler %s -> %s %s", h.Type, h.Method, h.URL)
	}
	return nil
}
