// Package llm defines the invocation contract shared by every layer of the
// resilience pipeline: the bare provider call, the retry and rate-limiting
// wrapper, the caching wrapper and any response-shaping wrapper.
//
// Every layer implements Invoker. Wrappers hold a reference to the next
// Invoker and may short-circuit (cache hit) or loop (retry) before returning,
// which lets layers be stacked in any order and tested against a stub.
package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// Kind identifies the type of provider operation.
type Kind string

const (
	// KindCompletion is a text completion / chat call.
	KindCompletion Kind = "chat"

	// KindEmbedding is an embedding call over one or more inputs.
	KindEmbedding Kind = "embedding"
)

// Role values used in conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the input to one invocation. Layers read it and never mutate it;
// a layer that needs a different request derives a new value.
type Request struct {
	// Kind selects completion or embedding semantics.
	Kind Kind `json:"kind"`

	// Prompt is the text for completion calls.
	Prompt string `json:"prompt,omitempty"`

	// Inputs are the texts for embedding calls.
	Inputs []string `json:"inputs,omitempty"`
}

// Completion builds a completion request.
func Completion(prompt string) Request {
	return Request{Kind: KindCompletion, Prompt: prompt}
}

// Embedding builds an embedding request.
func Embedding(inputs ...string) Request {
	return Request{Kind: KindEmbedding, Inputs: inputs}
}

// Payload returns the textual payload used for cache keys and token counting.
func (r Request) Payload() string {
	if r.Kind == KindEmbedding {
		data, err := json.Marshal(r.Inputs)
		if err != nil {
			return strings.Join(r.Inputs, "\n")
		}
		return string(data)
	}
	return r.Prompt
}

// Text returns all human-readable text carried by the request.
func (r Request) Text() string {
	if r.Kind == KindEmbedding {
		return strings.Join(r.Inputs, "\n")
	}
	return r.Prompt
}

// Options is the per-call option bag. It is read-only for the duration of a
// call; wrappers that need different options derive a copy with Clone.
type Options struct {
	// Name is a human-readable operation name used for logging and cache namespacing.
	Name string

	// JSON requests a structured (JSON) response.
	JSON bool

	// Validate, when set, must accept the result for the call to succeed.
	Validate func(*Result) bool

	// Variables are substituted into the prompt ({name} placeholders).
	Variables map[string]string

	// History is the conversation preceding this call.
	History []Message

	// Parameters are provider model parameters (temperature, max_tokens, ...).
	Parameters map[string]any
}

// Clone returns a deep copy of the option maps and history so that the copy
// can be modified without touching the caller's instance.
func (o Options) Clone() Options {
	c := o
	if o.Variables != nil {
		c.Variables = make(map[string]string, len(o.Variables))
		for k, v := range o.Variables {
			c.Variables[k] = v
		}
	}
	if o.Parameters != nil {
		c.Parameters = make(map[string]any, len(o.Parameters))
		for k, v := range o.Parameters {
			c.Parameters[k] = v
		}
	}
	if o.History != nil {
		c.History = append([]Message(nil), o.History...)
	}
	return c
}

// Usage reports provider-measured token counts. Zero means not reported.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Result is the output envelope of a successful invocation. A nil *Result with
// a nil error means the provider returned nothing.
type Result struct {
	// Text is the raw completion output.
	Text string `json:"text,omitempty"`

	// Embeddings holds one vector per input for embedding calls.
	Embeddings [][]float32 `json:"embeddings,omitempty"`

	// Parsed is the structured form of Text when JSON output was requested.
	Parsed map[string]any `json:"parsed,omitempty"`

	// History is the caller's history plus the newest turn.
	History []Message `json:"history,omitempty"`

	// Usage carries provider-reported token counts.
	Usage Usage `json:"usage"`
}

// Clone returns a copy that shares no slices or maps with r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.Embeddings != nil {
		c.Embeddings = make([][]float32, len(r.Embeddings))
		for i, v := range r.Embeddings {
			c.Embeddings[i] = append([]float32(nil), v...)
		}
	}
	if r.Parsed != nil {
		c.Parsed = make(map[string]any, len(r.Parsed))
		for k, v := range r.Parsed {
			c.Parsed[k] = v
		}
	}
	if r.History != nil {
		c.History = append([]Message(nil), r.History...)
	}
	return &c
}

// Invoker is the single-method contract implemented by every layer.
type Invoker interface {
	Invoke(ctx context.Context, req Request, opts Options) (*Result, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req Request, opts Options) (*Result, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, req Request, opts Options) (*Result, error) {
	return f(ctx, req, opts)
}

// Middleware wraps an Invoker with an additional concern.
type Middleware func(next Invoker) Invoker

// Chain wraps core with the given middleware. The first middleware is applied
// first and therefore ends up innermost, closest to core.
func Chain(core Invoker, mws ...Middleware) Invoker {
	inv := core
	for _, mw := range mws {
		if mw == nil {
			continue
		}
		inv = mw(inv)
	}
	return inv
}
