// Package gemini implements llm.Provider against the Google Generative
// Language REST API.
package gemini

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/durvesh-thorat/RETRIVA/llm"
)

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string `json:"response_mime_type,omitempty"`
}

type geminiRequest struct {
	GenerationConfig generationConfig `json:"generationConfig,omitempty"`
	Contents         []content        `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text,omitempty"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
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
	return "Gemini"
}

// Complete sends the request to the named Gemini model. All prompts in this
// service ask for JSON, so the response mime type is pinned to JSON.
func (c *Client) Complete(model string, req llm.Request) (string, error) {
	var parts []part
	if req.System != "" {
		parts = append(parts, part{Text: req.System})
	}
	if req.Prompt != "" {
		parts = append(parts, part{Text: req.Prompt})
	}
	for _, img := range req.Images {
		if len(img) == 0 {
			continue
		}
		parts = append(parts, part{
			InlineData: &inlineData{
				MimeType: "image/jpeg",
				Data:     base64.StdEncoding.EncodeToString(img),
			},
		})
	}

	body := geminiRequest{
		GenerationConfig: generationConfig{ResponseMimeType: "application/json"},
		Contents: []content{
			{
				Role:  "user",
				Parts: parts,
			},
		},
	}
	return c.generateContent(model, body)
}

func (c *Client) generateContent(model string, body geminiRequest) (string, error) {
	// try v1beta first, then v1; newer models are only served on v1beta
	endpoints := []string{
		fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", model, c.apiKey),
		fmt.Sprintf("https://generativelanguage.googleapis.com/v1/models/%s:generateContent?key=%s", model, c.apiKey),
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	lastStatus := 0
	for _, ep := range endpoints {
		req, err := http.NewRequest("POST", ep, bytes.NewBuffer(data))
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to send request: %w", err)
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			// no point trying the other endpoint, the quota is shared
			return "", llm.Throttled(model, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody)))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastStatus = resp.StatusCode
			lastErr = fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
			// retry next endpoint if available
			continue
		}

		var gr geminiResponse
		if err := json.Unmarshal(respBody, &gr); err != nil {
			lastStatus = 0
			lastErr = fmt.Errorf("failed to parse response: %w", err)
			continue
		}
		if len(gr.Candidates) == 0 {
			lastStatus = 0
			lastErr = fmt.Errorf("no candidates in response")
			continue
		}

		var text strings.Builder
		for _, p := range gr.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
		if text.Len() > 0 {
			return text.String(), nil
		}
		lastStatus = 0
		lastErr = fmt.Errorf("no text part in response")
	}

	// 404 on every endpoint means the model itself is not served
	if lastStatus == http.StatusNotFound {
		return "", llm.Unavailable(model, lastErr)
	}
	return "", lastErr
}
