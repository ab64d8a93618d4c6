package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Sternrassler/llm-guard/pkg/llm"
)

// Variables substitutes {name} placeholders in completion prompts from
// Options.Variables. The caller's request is not modified.
func Variables() llm.Middleware {
	return func(next llm.Invoker) llm.Invoker {
		return llm.InvokerFunc(func(ctx context.Context, req llm.Request, opts llm.Options) (*llm.Result, error) {
			if len(opts.Variables) == 0 || req.Kind == llm.KindEmbedding {
				return next.Invoke(ctx, req, opts)
			}
			req.Prompt = substitute(req.Prompt, opts.Variables)
			return next.Invoke(ctx, req, opts)
		})
	}
}

func substitute(prompt string, vars map[string]string) string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, 2*len(names))
	for _, name := range names {
		pairs = append(pairs, "{"+name+"}", vars[name])
	}
	return strings.NewReplacer(pairs...).Replace(prompt)
}

// History makes the result carry the conversation: the caller's history, the
// user turn and the assistant reply. Results that already carry a history
// are left alone.
func History() llm.Middleware {
	return func(next llm.Invoker) llm.Invoker {
		return llm.InvokerFunc(func(ctx context.Context, req llm.Request, opts llm.Options) (*llm.Result, error) {
			res, err := next.Invoke(ctx, req, opts)
			if err != nil || res == nil || req.Kind == llm.KindEmbedding || len(res.History) > 0 {
				return res, err
			}

			out := res.Clone()
			out.History = make([]llm.Message, 0, len(opts.History)+2)
			out.History = append(out.History, opts.History...)
			out.History = append(out.History,
				llm.Message{Role: llm.RoleUser, Content: req.Prompt},
				llm.Message{Role: llm.RoleAssistant, Content: res.Text},
			)
			return out, nil
		})
	}
}

// StructuredOutput parses the text of results into Result.Parsed when
// Options.JSON is set. Markdown code fences around the JSON are tolerated.
func StructuredOutput() llm.Middleware {
	return func(next llm.Invoker) llm.Invoker {
		return llm.InvokerFunc(func(ctx context.Context, req llm.Request, opts llm.Options) (*llm.Result, error) {
			res, err := next.Invoke(ctx, req, opts)
			if err != nil || res == nil || !opts.JSON || res.Parsed != nil {
				return res, err
			}

			parsed, err := ParseJSON(res.Text)
			if err != nil {
				return nil, err
			}
			out := res.Clone()
			out.Parsed = parsed
			return out, nil
		})
	}
}

// ParseJSON parses a JSON object from model output.
func ParseJSON(text string) (map[string]any, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			// drop the language tag line
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if parsed == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidJSON)
	}
	return parsed, nil
}

// Validation rejects results refused by Options.Validate.
func Validation() llm.Middleware {
	return func(next llm.Invoker) llm.Invoker {
		return llm.InvokerFunc(func(ctx context.Context, req llm.Request, opts llm.Options) (*llm.Result, error) {
			res, err := next.Invoke(ctx, req, opts)
			if err != nil || opts.Validate == nil {
				return res, err
			}
			if !opts.Validate(res) {
				return nil, fmt.Errorf("%s: %w", operationName(req, opts), ErrValidationFailed)
			}
			return res, nil
		})
	}
}
