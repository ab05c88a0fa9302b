package upstream

import (
	"fmt"
	"strings"
)

// placeholderPromptLimit caps how much of the user's prompt is echoed back
// in the missing-credential placeholder.
const placeholderPromptLimit = 200

// Kind tags the outcome of a single upstream call. The zero value is
// KindUnknown, so a Result returned alongside an error never reads as a
// success.
type Kind int

const (
	KindUnknown Kind = iota
	KindSuccess
	KindMissingCredential
	KindUpstreamError
	KindEmptyReply
)

// String returns the outcome label used in logs, spans and metrics.
func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindSuccess:
		return "success"
	case KindMissingCredential:
		return "missing_credential"
	case KindUpstreamError:
		return "upstream_error"
	case KindEmptyReply:
		return "empty_reply"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of one Reply call. Only the fields relevant to Kind
// are populated.
type Result struct {
	Kind Kind

	// KindSuccess
	Content string

	// KindUpstreamError
	Status  int
	Excerpt string

	// KindMissingCredential echoes the request back.
	Prompt        string
	Style         string
	AssistantName string
}

// Text renders the result as the reply string returned to the caller.
// Every non-exception outcome becomes text here and nowhere else.
func (r Result) Text() string {
	switch r.Kind {
	case KindSuccess:
		return r.Content
	case KindMissingCredential:
		var b strings.Builder
		fmt.Fprintf(&b, "(%s) The upstream API key is not configured, so this is a placeholder reply.\n", r.AssistantName)
		fmt.Fprintf(&b, "style: %s\n", r.Style)
		fmt.Fprintf(&b, "prompt: %s\n", truncate(r.Prompt, placeholderPromptLimit, "..."))
		b.WriteString("Next step: set OPENAI_API_KEY (or point upstream.key_ref at a stored key) and try again.")
		return b.String()
	case KindUpstreamError:
		return fmt.Sprintf("(upstream call failed)\nstatus=%d\n%s", r.Status, r.Excerpt)
	case KindEmptyReply:
		return "(empty reply)"
	default:
		return ""
	}
}

// truncate shortens s to at most limit characters, appending suffix when
// anything was cut.
func truncate(s string, limit int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + suffix
}
