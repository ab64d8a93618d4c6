package llm

import (
	"context"
	"reflect"
	"testing"
)

func TestRequest_Payload(t *testing.T) {
	tests := []struct {
		name     string
		req      Request
		expected string
	}{
		{
			name:     "completion uses prompt",
			req:      Completion("hello"),
			expected: "hello",
		},
		{
			name:     "embedding uses json array",
			req:      Embedding("a", "b"),
			expected: `["a","b"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Payload(); got != tt.expected {
				t.Errorf("Payload() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestOptions_Clone(t *testing.T) {
	orig := Options{
		Name:       "summarize",
		Variables:  map[string]string{"x": "1"},
		Parameters: map[string]any{"temperature": 0.2},
		History:    []Message{{Role: RoleUser, Content: "hi"}},
	}

	c := orig.Clone()
	c.Variables["x"] = "2"
	c.Parameters["temperature"] = 0.9
	c.History[0].Content = "changed"

	if orig.Variables["x"] != "1" {
		t.Errorf("Clone() shares Variables with original")
	}
	if orig.Parameters["temperature"] != 0.2 {
		t.Errorf("Clone() shares Parameters with original")
	}
	if orig.History[0].Content != "hi" {
		t.Errorf("Clone() shares History with original")
	}
}

func TestResult_Clone(t *testing.T) {
	var nilResult *Result
	if nilResult.Clone() != nil {
		t.Fatal("Clone() of nil result should be nil")
	}

	r := &Result{
		Text:       "out",
		Embeddings: [][]float32{{1, 2}},
		Parsed:     map[string]any{"k": "v"},
		History:    []Message{{Role: RoleAssistant, Content: "out"}},
	}
	c := r.Clone()
	if !reflect.DeepEqual(r, c) {
		t.Fatalf("Clone() = %+v, want %+v", c, r)
	}
	c.Embeddings[0][0] = 9
	if r.Embeddings[0][0] != 1 {
		t.Error("Clone() shares embedding vectors with original")
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	core := InvokerFunc(func(ctx context.Context, req Request, opts Options) (*Result, error) {
		order = append(order, "core")
		return &Result{Text: "ok"}, nil
	})
	tag := func(name string) Middleware {
		return func(next Invoker) Invoker {
			return InvokerFunc(func(ctx context.Context, req Request, opts Options) (*Result, error) {
				order = append(order, name)
				return next.Invoke(ctx, req, opts)
			})
		}
	}

	inv := Chain(core, tag("inner"), nil, tag("outer"))
	if _, err := inv.Invoke(context.Background(), Completion("p"), Options{}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	want := []string{"outer", "inner", "core"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("call order = %v, want %v", order, want)
	}
}
