package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/anchor/internal/config"
	"github.com/allaspectsdev/anchor/internal/tracing"
	"github.com/allaspectsdev/anchor/internal/version"
)

// Route labels reported by Router.Resolve.
const (
	RoutePreflight = "preflight"
	RouteHealth    = "health"
	RouteReply     = "reply"
	RouteNotFound  = "not_found"
)

// Replier produces reply text. Implemented by *upstream.Adapter.
type Replier interface {
	Reply(ctx context.Context, prompt, style, assistantName string) (string, error)
}

// Inbound is a transport-neutral view of one request.
type Inbound struct {
	Method string
	Path   string
	Body   []byte
	Header http.Header

	// BodyErr is set when the body could not be read in full.
	BodyErr error
}

// Response is the status and JSON body produced for one Inbound.
// A nil Body means no body is written.
type Response struct {
	Status int
	Body   any
}

type healthBody struct {
	OK      bool   `json:"ok"`
	App     string `json:"app"`
	Version string `json:"version"`
	TS      string `json:"ts"`
}

type replyBody struct {
	Reply string `json:"reply"`
}

type errorBody struct {
	Error string `json:"error"`
	Path  string `json:"path,omitempty"`
}

// Router is the gateway's single entry point. Every Inbound resolves to
// exactly one Response, including when the reply path panics.
type Router struct {
	replier  Replier
	prefix   string
	health   string
	replies  map[string]bool
	defaults Defaults
	now      func() time.Time
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithClock overrides the time source used for health timestamps.
func WithClock(now func() time.Time) RouterOption {
	return func(rt *Router) { rt.now = now }
}

// NewRouter builds a Router from the routing and assistant config sections.
func NewRouter(replier Replier, routing config.RoutingConfig, assistant config.AssistantConfig, opts ...RouterOption) *Router {
	rt := &Router{
		replier: replier,
		prefix:  routing.ProxyPrefix,
		health:  routing.HealthRoute,
		replies: make(map[string]bool, 1+len(routing.ReplyAliases)),
		defaults: Defaults{
			Style:         assistant.DefaultStyle,
			AssistantName: assistant.DefaultName,
		},
		now: time.Now,
	}
	rt.replies[routing.ReplyRoute] = true
	for _, alias := range routing.ReplyAliases {
		rt.replies[alias] = true
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Normalize strips the query string and the proxy prefix from path. The
// prefix is only removed as a whole segment, so "/apix" is left alone.
func (rt *Router) Normalize(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if rt.prefix != "" {
		switch {
		case path == rt.prefix:
			path = "/"
		case strings.HasPrefix(path, rt.prefix+"/"):
			path = path[len(rt.prefix):]
		}
	}
	if path == "" {
		path = "/"
	}
	return path
}

// Resolve returns the route label a method and path dispatch to.
func (rt *Router) Resolve(method, path string) string {
	if method == http.MethodOptions {
		return RoutePreflight
	}
	logical := rt.Normalize(path)
	switch {
	case logical == rt.health:
		return RouteHealth
	case rt.replies[logical]:
		return RouteReply
	default:
		return RouteNotFound
	}
}

// Handle dispatches one request.
func (rt *Router) Handle(ctx context.Context, in Inbound) (resp Response) {
	defer func() {
		if p := recover(); p != nil {
			loggerFrom(ctx).Error().
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("recovered panic while handling request")
			resp = errorResponse(http.StatusInternalServerError, fmt.Sprint(p))
		}
	}()

	switch rt.Resolve(in.Method, in.Path) {
	case RoutePreflight:
		return Response{Status: http.StatusNoContent}
	case RouteHealth:
		return Response{Status: http.StatusOK, Body: healthBody{
			OK:      true,
			App:     version.AppName,
			Version: version.Version,
			TS:      rt.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		}}
	case RouteReply:
		if in.Method != http.MethodPost {
			return errorResponse(http.StatusMethodNotAllowed, "POST only")
		}
		return rt.reply(ctx, in)
	default:
		path := in.Path
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		return Response{Status: http.StatusNotFound, Body: errorBody{Error: "Not Found", Path: path}}
	}
}

func (rt *Router) reply(ctx context.Context, in Inbound) Response {
	ctx, span := tracing.StartReplySpan(ctx, rt.Normalize(in.Path))
	defer span.End()

	if in.BodyErr != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(in.BodyErr, &tooLarge) {
			return errorResponse(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		tracing.RecordError(ctx, in.BodyErr)
		return errorResponse(http.StatusInternalServerError, "reading request body: "+in.BodyErr.Error())
	}

	req := ParseReplyRequest(in.Body, rt.defaults)
	text, err := rt.replier.Reply(ctx, req.Prompt, req.Style, req.AssistantName)
	if err != nil {
		tracing.RecordError(ctx, err)
		loggerFrom(ctx).Error().Err(err).Msg("reply failed")
		return errorResponse(http.StatusInternalServerError, err.Error())
	}
	return Response{Status: http.StatusOK, Body: replyBody{Reply: text}}
}

func errorResponse(status int, message string) Response {
	return Response{Status: status, Body: errorBody{Error: message}}
}

func loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
