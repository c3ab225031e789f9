package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const maxErrorBody = 4 << 10

// transport is the retrying JSON poster shared by the HTTP engines.
type transport struct {
	provider   string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	sleep      func(context.Context, time.Duration) error
}

func newTransport(provider string, timeout time.Duration, limiter *rate.Limiter, maxRetries int) *transport {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &transport{
		provider:   provider,
		client:     &http.Client{Timeout: timeout},
		limiter:    limiter,
		maxRetries: maxRetries,
		sleep:      sleepContext,
	}
}

// postJSON retries timeouts and 408/429/5xx with exponential backoff. The last
// StatusError is returned once attempts run out, so 429/503 still match ErrTransient.
func (t *transport) postJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", t.provider, err)
	}
	var lastErr error
	for attempt := 0; attempt < t.maxRetries; attempt++ {
		if attempt > 0 {
			if err := t.sleep(ctx, backoff(attempt-1)); err != nil {
				return err
			}
		}
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return fmt.Errorf("build %s request: %w", t.provider, err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		res, err := t.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if isTimeout(err) {
				continue
			}
			return fmt.Errorf("%s request: %w", t.provider, err)
		}
		done, err := t.handle(res, out)
		if done {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (t *transport) handle(res *http.Response, out any) (bool, error) {
	defer res.Body.Close()
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return true, fmt.Errorf("decode %s response: %w", t.provider, err)
		}
		return true, nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	serr := &StatusError{Provider: t.provider, Code: res.StatusCode, Body: string(body)}
	retryable := res.StatusCode == 408 || res.StatusCode == 429 || res.StatusCode >= 500
	return !retryable, serr
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoff(i int) time.Duration {
	return time.Duration(500*(1<<i)) * time.Millisecond
}
