// Package invoker provides AgentInvoker implementations: in-process builtin
// agents and an Anthropic-backed agent. The orchestration core only ever
// sees the invoker contract.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go-baton/internal/core/ports"
	"go-baton/internal/domain"
)

// Func adapts a plain function to the invoker contract.
type Func func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

func (f Func) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return f(ctx, input)
}

// Builtins wires up the in-process agent actions available without any
// external provider.
func Builtins() map[string]ports.AgentInvoker {
	return map[string]ports.AgentInvoker{
		"summarize": Func(summarize),
		"keywords":  Func(keywords),
		"sentiment": Func(sentiment),
	}
}

// inputText digs the text to operate on out of the composed step input.
func inputText(input json.RawMessage) (string, error) {
	var doc struct {
		Task struct {
			Text string `json:"text"`
		} `json:"task"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(input, &doc); err != nil {
		return "", domain.PermanentError(fmt.Errorf("malformed input: %w", err))
	}
	if doc.Task.Text != "" {
		return doc.Task.Text, nil
	}
	if doc.Text != "" {
		return doc.Text, nil
	}
	return "", domain.PermanentError(fmt.Errorf("input has no text field"))
}

func summarize(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	text, err := inputText(input)
	if err != nil {
		return nil, err
	}
	const maxLen = 200
	summary := text
	if len(summary) > maxLen {
		if cut := strings.LastIndexByte(summary[:maxLen], ' '); cut > 0 {
			summary = summary[:cut]
		} else {
			summary = summary[:maxLen]
		}
		summary += "..."
	}
	return json.Marshal(map[string]string{"summary": summary})
}

func keywords(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	text, err := inputText(input)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if len(word) > 4 {
			counts[word]++
		}
	}
	words := make([]string, 0, len(counts))
	for word := range counts {
		words = append(words, word)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > 10 {
		words = words[:10]
	}
	return json.Marshal(map[string][]string{"keywords": words})
}

var positiveWords = []string{"good", "great", "excellent", "success", "win", "improve", "happy"}
var negativeWords = []string{"bad", "poor", "failure", "error", "lose", "worse", "unhappy"}

func sentiment(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	text, err := inputText(input)
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(text)
	score := 0
	for _, w := range positiveWords {
		score += strings.Count(lower, w)
	}
	for _, w := range negativeWords {
		score -= strings.Count(lower, w)
	}
	label := "neutral"
	if score > 0 {
		label = "positive"
	} else if score < 0 {
		label = "negative"
	}
	return json.Marshal(map[string]any{"sentiment": label, "score": score})
}
