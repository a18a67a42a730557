package main

import (
	"context"
	"testing"
)

// stubCompletions scripts model responses per call: the Nth call gets
// errs[N] or responses[N]; calls past the end reuse the last response.
type stubCompletions struct {
	responses  []string
	errs       []error
	calls      int
	lastSystem string
	lastUser   string
}

func (s *stubCompletions) Complete(_ context.Context, systemPrompt, userPrompt string) (string, LLMUsage, error) {
	idx := s.calls
	s.calls++
	s.lastSystem = systemPrompt
	s.lastUser = userPrompt

	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", LLMUsage{}, s.errs[idx]
	}
	resp := ""
	if idx < len(s.responses) {
		resp = s.responses[idx]
	} else if len(s.responses) > 0 {
		resp = s.responses[len(s.responses)-1]
	}
	return resp, LLMUsage{InputTokens: 10, OutputTokens: 5}, nil
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"{\"a\": 1}", "{\"a\": 1}"},
		{"```json\n{\"a\": 1}\n```", "{\"a\": 1}"},
		{"```\n{\"a\": 1}\n```", "{\"a\": 1}"},
		{"  {\"a\": 1}  ", "{\"a\": 1}"},
	}
	for _, c := range cases {
		if got := stripCodeFence(c.in); got != c.want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNewCompletionsSelectsProvider(t *testing.T) {
	anthro := NewCompletions(Config{LLMProvider: "anthropic", AnthropicAPIKey: "k", LLMTimeoutSecs: 5})
	if _, ok := anthro.(*anthropicCompletions); !ok {
		t.Fatalf("expected anthropic client, got %T", anthro)
	}

	openai := NewCompletions(Config{LLMProvider: "openai", OpenAIAPIKey: "k", LLMTimeoutSecs: 5})
	if _, ok := openai.(*openAICompletions); !ok {
		t.Fatalf("expected openai client, got %T", openai)
	}
}

func TestLLMUsageAdd(t *testing.T) {
	u := LLMUsage{InputTokens: 10, OutputTokens: 5}
	u.Add(LLMUsage{InputTokens: 3, OutputTokens: 2, CacheReadInputTokens: 7})
	if u.InputTokens != 13 || u.OutputTokens != 7 || u.CacheReadInputTokens != 7 {
		t.Fatalf("unexpected usage after Add: %+v", u)
	}
	if u.TotalTokens() != 20 {
		t.Fatalf("expected total 20, got %d", u.TotalTokens())
	}
}
