package tokenizer

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

const (
	encCL100K = "cl100k_base"
	encO200K  = "o200k_base"

	// perMessageOverhead covers the role framing around each chat message.
	perMessageOverhead = 4
	// replyPriming covers the assistant header the model is primed with.
	replyPriming = 3
)

// Message represents a chat message for token counting purposes.
type Message struct {
	Role    string
	Content string
}

type encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// modelEncodings maps chat model name prefixes to their tiktoken encoding.
// Lookups use the longest matching prefix.
var modelEncodings = map[string]string{
	"gpt-3.5-turbo": encCL100K,
	"gpt-4":         encCL100K,
	"gpt-4-turbo":   encCL100K,
	"gpt-4o":        encO200K,
	"gpt-4o-mini":   encO200K,
	"gpt-4.1":       encO200K,
	"o1":            encO200K,
	"o3":            encO200K,
	"o4-mini":       encO200K,
}

// Tokenizer estimates prompt sizes with tiktoken. Encoders are loaded once
// per encoding and shared by all callers.
type Tokenizer struct {
	mu       sync.Mutex
	encoders map[string]encoder
	failed   map[string]error

	load func(name string) (encoder, error)
}

// New creates a new Tokenizer instance.
func New() *Tokenizer {
	return &Tokenizer{
		encoders: make(map[string]encoder),
		failed:   make(map[string]error),
		load: func(name string) (encoder, error) {
			return tiktoken.GetEncoding(name)
		},
	}
}

// GetEncoding returns the encoding name for the given model.
// Unknown models default to cl100k_base.
func (t *Tokenizer) GetEncoding(model string) string {
	lower := strings.ToLower(strings.TrimSpace(model))
	if enc, ok := modelEncodings[lower]; ok {
		return enc
	}

	best, bestLen := encCL100K, 0
	for prefix, enc := range modelEncodings {
		if len(prefix) > bestLen && strings.HasPrefix(lower, prefix) {
			best, bestLen = enc, len(prefix)
		}
	}
	return best
}

func (t *Tokenizer) getEncoder(model string) (encoder, error) {
	name := t.GetEncoding(model)

	t.mu.Lock()
	defer t.mu.Unlock()

	if enc, ok := t.encoders[name]; ok {
		return enc, nil
	}
	if err, ok := t.failed[name]; ok {
		return nil, err
	}

	enc, err := t.load(name)
	if err != nil {
		t.failed[name] = err
		return nil, err
	}
	t.encoders[name] = enc
	return enc, nil
}

// CountTokens counts the tokens in text for the specified model. It returns
// 0 when no encoder is available.
func (t *Tokenizer) CountTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc, err := t.getEncoder(model)
	if err != nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}

// CountMessages counts the tokens a chat completion request would consume
// for the given messages, including framing and reply priming.
func (t *Tokenizer) CountMessages(model string, messages []Message) int {
	enc, err := t.getEncoder(model)
	if err != nil {
		return 0
	}

	total := replyPriming
	for _, msg := range messages {
		total += perMessageOverhead
		total += len(enc.Encode(msg.Role, nil, nil))
		total += len(enc.Encode(msg.Content, nil, nil))
	}
	return total
}

// EstimatePrompt returns the prompt token count of a system plus user
// message pair.
func (t *Tokenizer) EstimatePrompt(model, system, user string) int {
	return t.CountMessages(model, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
}
