package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/anchor/internal/config"
	"github.com/allaspectsdev/anchor/internal/metrics"
	"github.com/allaspectsdev/anchor/internal/tokenizer"
	"github.com/allaspectsdev/anchor/internal/tracing"
)

// ErrMalformedResponse is returned when a 2xx upstream body cannot be decoded
// as a chat completion.
var ErrMalformedResponse = errors.New("malformed upstream response")

// CredentialSource yields the upstream API key. It is consulted on every
// call. An empty key with a nil error means no credential is configured.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// Settings configures the Adapter.
type Settings struct {
	APIBase         string
	Model           string
	Temperature     float64
	Timeout         time.Duration // 0 = no timeout
	MaxExcerpt      int
	MaxResponseSize int64
}

// SettingsFromConfig maps the upstream config section to Settings.
func SettingsFromConfig(cfg config.UpstreamConfig) Settings {
	return Settings{
		APIBase:         cfg.APIBase,
		Model:           cfg.Model,
		Temperature:     cfg.Temperature,
		Timeout:         cfg.TimeoutDuration(),
		MaxExcerpt:      cfg.MaxExcerpt,
		MaxResponseSize: cfg.MaxResponseSize,
	}
}

// Endpoint returns the chat completion URL derived from APIBase.
func (s Settings) Endpoint() string {
	return strings.TrimRight(s.APIBase, "/") + "/chat/completions"
}

// Adapter turns a reply request into a single chat completion call and the
// call's outcome into reply text.
type Adapter struct {
	settings  Settings
	creds     CredentialSource
	client    *http.Client
	tokenizer *tokenizer.Tokenizer
	metrics   *metrics.Collector
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithHTTPClient replaces the default pooled HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// WithTokenizer enables prompt token estimation.
func WithTokenizer(t *tokenizer.Tokenizer) Option {
	return func(a *Adapter) { a.tokenizer = t }
}

// WithMetrics records reply outcomes and upstream latency on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(a *Adapter) { a.metrics = c }
}

// NewAdapter creates an Adapter. The HTTP client carries no timeout of its
// own; Settings.Timeout is applied per call through the context.
// MaxExcerpt is capped at config.MaxExcerptLimit and Temperature is clamped
// to [config.MinTemperature, config.MaxTemperature].
func NewAdapter(settings Settings, creds CredentialSource, opts ...Option) *Adapter {
	if settings.MaxExcerpt <= 0 || settings.MaxExcerpt > config.MaxExcerptLimit {
		settings.MaxExcerpt = config.MaxExcerptLimit
	}
	settings.Temperature = clampTemperature(settings.Temperature)
	if settings.MaxResponseSize <= 0 {
		settings.MaxResponseSize = config.DefaultMaxResponseSize
	}

	a := &Adapter{
		settings: settings,
		creds:    creds,
		client:   &http.Client{Transport: newTransport()},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func clampTemperature(t float64) float64 {
	switch {
	case t < config.MinTemperature:
		return config.MinTemperature
	case t > config.MaxTemperature:
		return config.MaxTemperature
	default:
		return t
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// Reply produces the reply text for one request. Missing credentials,
// non-2xx answers and empty completions all come back as text; only
// transport failures and undecodable 2xx bodies return an error.
func (a *Adapter) Reply(ctx context.Context, prompt, style, assistantName string) (string, error) {
	res, err := a.Call(ctx, prompt, style, assistantName)
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

// Call performs the upstream exchange and returns its tagged outcome.
func (a *Adapter) Call(ctx context.Context, prompt, style, assistantName string) (Result, error) {
	logger := loggerFrom(ctx)

	p, err := BuildPrompt(prompt, style, assistantName)
	if err != nil {
		a.metrics.RecordReply(metrics.OutcomeFailure, 0)
		return Result{}, err
	}

	tokens := 0
	if a.tokenizer != nil {
		tokens = a.tokenizer.EstimatePrompt(a.settings.Model, p.System, p.User)
		a.metrics.ObservePromptTokens(tokens)
	}
	tracing.SetReplyAttributes(ctx, assistantName, style, tokens)

	key, err := a.creds.Credential(ctx)
	if err != nil {
		a.metrics.RecordReply(metrics.OutcomeFailure, 0)
		tracing.RecordError(ctx, err)
		return Result{}, fmt.Errorf("resolving upstream credential: %w", err)
	}
	if key == "" {
		res := Result{
			Kind:          KindMissingCredential,
			Prompt:        prompt,
			Style:         style,
			AssistantName: assistantName,
		}
		a.finish(ctx, logger, res, 0)
		return res, nil
	}

	start := time.Now()
	res, err := a.complete(ctx, p, key)
	elapsed := time.Since(start)
	if err != nil {
		a.metrics.RecordReply(metrics.OutcomeFailure, elapsed)
		tracing.SetOutcome(ctx, metrics.OutcomeFailure, 0)
		tracing.RecordError(ctx, err)
		logger.Error().Err(err).
			Str("model", a.settings.Model).
			Dur("latency", elapsed).
			Msg("upstream call failed")
		return Result{}, err
	}

	a.finish(ctx, logger, res, elapsed)
	logger.Debug().Int("prompt_tokens", tokens).Msg("prompt size estimated")
	return res, nil
}

func (a *Adapter) finish(ctx context.Context, logger *zerolog.Logger, res Result, elapsed time.Duration) {
	outcome := res.Kind.String()
	a.metrics.RecordReply(outcome, elapsed)
	tracing.SetOutcome(ctx, outcome, res.Status)

	ev := logger.Info()
	if res.Kind == KindUpstreamError || res.Kind == KindMissingCredential {
		ev = logger.Warn()
	}
	ev.Str("outcome", outcome).
		Str("model", a.settings.Model).
		Int("upstream_status", res.Status).
		Dur("latency", elapsed).
		Msg("reply resolved")
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete sends exactly one request. The call is detached from the caller's
// cancellation so a client disconnect does not abort it; Settings.Timeout
// still bounds it.
func (a *Adapter) complete(ctx context.Context, p Prompt, key string) (Result, error) {
	callCtx := context.WithoutCancel(ctx)
	if a.settings.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, a.settings.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(chatRequest{
		Model: a.settings.Model,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		Temperature: a.settings.Temperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encoding chat request: %w", err)
	}

	endpoint := a.settings.Endpoint()
	callCtx, span := tracing.StartUpstreamSpan(callCtx, endpoint, a.settings.Model)
	defer span.End()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("creating upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	tracing.InjectHeaders(callCtx, req)

	resp, err := a.client.Do(req)
	if err != nil {
		tracing.RecordError(callCtx, err)
		return Result{}, fmt.Errorf("calling upstream %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.settings.MaxResponseSize+1))
	if err != nil {
		tracing.RecordError(callCtx, err)
		return Result{}, fmt.Errorf("reading upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{
			Kind:    KindUpstreamError,
			Status:  resp.StatusCode,
			Excerpt: truncate(string(body), a.settings.MaxExcerpt, ""),
		}, nil
	}

	if int64(len(body)) > a.settings.MaxResponseSize {
		return Result{}, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedResponse, a.settings.MaxResponseSize)
	}

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var content string
	if len(completion.Choices) > 0 {
		content = strings.TrimSpace(completion.Choices[0].Message.Content)
	}
	if content == "" {
		return Result{Kind: KindEmptyReply, Status: resp.StatusCode}, nil
	}
	return Result{Kind: KindSuccess, Status: resp.StatusCode, Content: content}, nil
}

// loggerFrom returns the request logger attached to ctx, or the global
// logger when none is attached.
func loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
