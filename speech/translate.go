package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/onnwee/chatcaster/telemetry"
)

const defaultTranslateURL = "https://translate.googleapis.com/translate_a/single"

// GoogleTranslator calls the public Google Translate endpoint. Calls go
// through a circuit breaker; while it is open Translate fails immediately.
type GoogleTranslator struct {
	BaseURL    string
	HTTPClient *http.Client

	cb *gobreaker.CircuitBreaker
}

// NewGoogleTranslator returns a translator that opens its breaker after five
// consecutive failures and probes again after 30s.
func NewGoogleTranslator(hc *http.Client) *GoogleTranslator {
	return newGoogleTranslator(hc, gobreaker.Settings{
		Name:        "translator",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
	})
}

func newGoogleTranslator(hc *http.Client, st gobreaker.Settings) *GoogleTranslator {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		slog.Info("translator circuit state change", slog.String("from", from.String()), slog.String("to", to.String()))
		telemetry.UpdateCircuitGauge(to == gobreaker.StateOpen)
	}
	return &GoogleTranslator{BaseURL: defaultTranslateURL, HTTPClient: hc, cb: gobreaker.NewCircuitBreaker(st)}
}

// State reports the breaker state.
func (t *GoogleTranslator) State() gobreaker.State { return t.cb.State() }

func (t *GoogleTranslator) Translate(ctx context.Context, text, target, source string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	out, err := t.cb.Execute(func() (interface{}, error) {
		return t.translate(ctx, text, target, source)
	})
	if err != nil {
		if errors.Is(err, ErrTranslation) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrTranslation, err)
	}
	return out.(string), nil
}

func (t *GoogleTranslator) translate(ctx context.Context, text, target, source string) (string, error) {
	if source == "" {
		source = sourceAuto
	}
	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", source)
	q.Set("tl", target)
	q.Set("dt", "t")
	q.Set("q", text)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrTranslation, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var body []any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrTranslation, err)
	}
	return joinSegments(body)
}

// joinSegments concatenates the translated parts of a translate_a/single
// response: [[["translated","original",...],...],...].
func joinSegments(body []any) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrTranslation)
	}
	segs, ok := body[0].([]any)
	if !ok {
		return "", fmt.Errorf("%w: unexpected response shape", ErrTranslation)
	}
	var sb strings.Builder
	for _, s := range segs {
		parts, ok := s.([]any)
		if !ok || len(parts) == 0 {
			continue
		}
		if str, ok := parts[0].(string); ok {
			sb.WriteString(str)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: no translated text", ErrTranslation)
	}
	return sb.String(), nil
}
