// Package apiclient performs the HTTP round trips shared by the provider clients:
// bounded retries for transient failures and a uniform ProviderError for the rest.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff"

	"genpipe/internal/domain"
	"genpipe/internal/infra"
)

const maxDetail = 400

// Caller issues requests for one provider.
type Caller struct {
	Provider string
	HTTP     *http.Client
	// Retries is the number of extra attempts after a transient failure.
	Retries        int
	InitialBackoff time.Duration
	Logger         *infra.Logger
}

// RequestFunc builds a fresh request for every attempt so bodies can be replayed.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Response is a fully read 2xx response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Do sends the request, retrying 429, 5xx and transport errors with exponential
// backoff. Any other non-2xx status, and cancellation, is returned at once.
func (c *Caller) Do(ctx context.Context, build RequestFunc) (*Response, error) {
	var out *Response
	attempt := 0
	op := func() error {
		attempt++
		resp, err := c.once(ctx, build)
		if err == nil {
			out = resp
			return nil
		}
		var pe *domain.ProviderError
		if errors.As(err, &pe) && !pe.Transient() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		c.logger().Warn().Err(err).Str("provider", c.Provider).Int("attempt", attempt).Msg("provider call failed, retrying")
		return err
	}
	if err := backoff.Retry(op, c.policy(ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

// DoJSON sends the request and decodes a JSON body into out.
func (c *Caller) DoJSON(ctx context.Context, build RequestFunc, out any) error {
	resp, err := c.Do(ctx, build)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &domain.ProviderError{Provider: c.Provider, Status: resp.Status, Detail: "malformed response", Err: err}
	}
	return nil
}

func (c *Caller) once(ctx context.Context, build RequestFunc) (*Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.Provider, err)
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: c.Provider, Detail: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderError{Provider: c.Provider, Status: resp.StatusCode, Detail: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.ProviderError{Provider: c.Provider, Status: resp.StatusCode, Detail: ErrorDetail(body)}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Caller) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	retries := c.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (c *Caller) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Caller) logger() *infra.Logger {
	return infra.OrNop(c.Logger)
}

// ErrorDetail extracts a readable message from the common provider error shapes.
func ErrorDetail(body []byte) string {
	var shaped struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
		Code    string          `json:"code"`
	}
	if err := json.Unmarshal(body, &shaped); err == nil {
		var nested struct {
			Message string `json:"message"`
		}
		if len(shaped.Error) > 0 {
			if json.Unmarshal(shaped.Error, &nested) == nil && nested.Message != "" {
				return truncate(nested.Message)
			}
			var s string
			if json.Unmarshal(shaped.Error, &s) == nil && s != "" {
				return truncate(s)
			}
		}
		if shaped.Message != "" {
			if shaped.Code != "" {
				return truncate(fmt.Sprintf("%s (%s)", shaped.Message, shaped.Code))
			}
			return truncate(shaped.Message)
		}
		if len(shaped.Detail) > 0 {
			var s string
			if json.Unmarshal(shaped.Detail, &s) == nil && s != "" {
				return truncate(s)
			}
			if json.Unmarshal(shaped.Detail, &nested) == nil && nested.Message != "" {
				return truncate(nested.Message)
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "empty response body"
	}
	return truncate(text)
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDetail {
		return s
	}
	cut := maxDetail
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
