package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FailureAnalyzer turns the raw error context of a permanently failed
// sync into a one-paragraph diagnosis.
type FailureAnalyzer struct {
	client *GeminiClient
}

// NewFailureAnalyzer wraps a Gemini client
func NewFailureAnalyzer(client *GeminiClient) *FailureAnalyzer {
	return &FailureAnalyzer{client: client}
}

const failurePrompt = `You are diagnosing a failed CRM synchronization for a
property management platform. Given the failure context below, reply with
at most three sentences: the most likely root cause and the single most
useful next step for the operator. No preamble.

Failure context:
%s`

// Annotate produces a short human-readable diagnosis of one failure
func (a *FailureAnalyzer) Annotate(ctx context.Context, details map[string]interface{}) (string, error) {
	payload, err := json.MarshalIndent(details, "", "  ")
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	text, err := a.client.GenerateContent(ctx, fmt.Sprintf(failurePrompt, payload))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
