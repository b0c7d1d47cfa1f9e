package ai_test

import (
	"errors"
	"testing"

	"github.com/p-n-ai/pai-curriculum/internal/ai"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `  {"clusters": []}  `, `{"clusters": []}`},
		{"bare array", `[1, 2, 3]`, `[1, 2, 3]`},
		{"fenced with language", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fenced without language", "```\n[0]\n```", `[0]`},
		{"prose around", `Here is the result: {"a": {"b": [1]}} hope it helps`, `{"a": {"b": [1]}}`},
		{"braces inside strings", `Result: {"name": "a } tricky { one"}`, `{"name": "a } tricky { one"}`},
		{"skips invalid candidate", `use {placeholders} then {"ok": true}`, `{"ok": true}`},
		{"escaped quote", `{"s": "say \"hi\" }"}`, `{"s": "say \"hi\" }"}`},
		{"second fence valid", "```text\nnope\n```\n```json\n{\"x\":1}\n```", `{"x":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ai.ExtractJSON(tt.input)
			if err != nil {
				t.Fatalf("ExtractJSON() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("ExtractJSON() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExtractJSON_NoStructuredData(t *testing.T) {
	for _, input := range []string{"", "   ", "no json at all", `{"unterminated": `, `42`} {
		if _, err := ai.ExtractJSON(input); !errors.Is(err, ai.ErrNoStructuredData) {
			t.Errorf("ExtractJSON(%q) error = %v, want ErrNoStructuredData", input, err)
		}
	}
}
