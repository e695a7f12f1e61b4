// Package moderation screens user-submitted text before it is published.
package moderation

import (
	"context"
	"fmt"
	"strings"

	"github.com/apex/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/durvesh-thorat/RETRIVA/parser"
)

// Verdict is the outcome of screening one piece of text.
type Verdict struct {
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason,omitempty"`
}

const moderationPrompt = `You review text submitted to a campus lost-and-found service (item reports and chat messages).
Flag content that is abusive, sexually explicit, an attempted scam, or contains personal data that does not belong in a public listing (government ID numbers, bank details).
Ordinary item descriptions, campus locations and pickup arrangements are fine.

Return a JSON object and nothing else:
{"flagged": true|false, "reason": "<short reason when flagged, else empty>"}

Text: %s`

// Screener moderates text through the OpenAI SDK, degrading to a local
// keyword screen when the API is unreachable. Moderation is advisory and
// must never become an availability dependency.
type Screener struct {
	client  *openai.Client
	model   string
	enabled bool
}

func NewScreener(apiKey, model string, enabled bool) *Screener {
	s := &Screener{model: model, enabled: enabled && apiKey != ""}
	if s.enabled {
		s.client = openai.NewClient(apiKey)
	}
	return s
}

// Screen returns a verdict for the given text. A disabled screener allows
// everything.
func (s *Screener) Screen(ctx context.Context, text string) Verdict {
	if !s.enabled || strings.TrimSpace(text) == "" {
		return Verdict{}
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(moderationPrompt, text),
			},
		},
		MaxTokens:   120,
		Temperature: 0,
	})
	if err != nil {
		log.Warnf("moderation request failed, using keyword screen: %v", err)
		return keywordScreen(text)
	}
	if len(resp.Choices) == 0 {
		return keywordScreen(text)
	}

	obj := parser.ParseObject(resp.Choices[0].Message.Content)
	if len(obj) == 0 {
		log.Warn("moderation response had no parseable JSON, using keyword screen")
		return keywordScreen(text)
	}

	flagged, _ := obj["flagged"].(bool)
	return Verdict{Flagged: flagged, Reason: parser.StringField(obj, "reason")}
}

// blockedTerms catches the obvious scam patterns when the model screen is
// unavailable.
var blockedTerms = []string{
	"wire transfer",
	"western union",
	"gift card",
	"crypto wallet",
	"social security number",
}

func keywordScreen(text string) Verdict {
	lowered := strings.ToLower(text)
	for _, term := range blockedTerms {
		if strings.Contains(lowered, term) {
			return Verdict{Flagged: true, Reason: "matched blocked term: " + term}
		}
	}
	return Verdict{}
}
