// Package openai implements llm.Provider against the OpenAI chat
// completions REST API.
package openai

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/durvesh-thorat/RETRIVA/llm"
)

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ImageContent struct {
	Type     string   `json:"type"`
	ImageURL ImageURL `json:"image_url"`
}

type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content any `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type Client struct {
	apiKey string
	http   *http.Client
}

func NewClient(apiKey string, timeout time.Duration) *Client {
	return &Client{
		apiKey: apiKey,
		http:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) SourceName() string {
	return "ChatGPT"
}

// encodeImageToBase64 converts image bytes to a base64 data URL
func encodeImageToBase64(imageData []byte) string {
	return fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(imageData))
}

func (c *Client) Complete(model string, req llm.Request) (string, error) {
	var messages []Message
	if req.System != "" {
		messages = append(messages, Message{
			Role: "system",
			Content: []any{
				TextContent{Type: "text", Text: req.System},
			},
		})
	}

	var userContent []any
	if req.Prompt != "" {
		userContent = append(userContent, TextContent{Type: "text", Text: req.Prompt})
	}
	for _, img := range req.Images {
		if len(img) == 0 {
			continue
		}
		userContent = append(userContent, ImageContent{
			Type:     "image_url",
			ImageURL: ImageURL{URL: encodeImageToBase64(img)},
		})
	}
	messages = append(messages, Message{Role: "user", Content: userContent})

	jsonData, err := json.Marshal(ChatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequest("POST", openAIEndpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", llm.Unavailable(model, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body)))
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", llm.Throttled(model, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body)))
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	// Content is usually a plain string; structured content is flattened
	// back to JSON so the caller always gets text.
	content := chatResp.Choices[0].Message.Content
	if contentStr, ok := content.(string); ok {
		return contentStr, nil
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to marshal content: %w", err)
	}
	return string(contentJSON), nil
}
