package judge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// OpenAI-compatible chat completion structures.
type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func newChatJudge(name string, cfg BackendConfig, client *http.Client, rec Recorder, logger *slog.Logger) Judge {
	call := func(ctx context.Context, system, user string) (string, error) {
		req := chatRequest{
			Model: cfg.Model,
			Messages: []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
			MaxTokens:      cfg.MaxTokens,
			Temperature:    0.2,
			ResponseFormat: map[string]any{"type": "json_object"},
		}

		var resp chatResponse
		headers := map[string]string{"Authorization": "Bearer " + cfg.APIKey}
		if err := postJSON(ctx, client, cfg.Endpoint, headers, req, &resp); err != nil {
			return "", err
		}
		if resp.Error != nil {
			return "", errors.New(resp.Error.Message)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("no choices in response")
		}
		return resp.Choices[0].Message.Content, nil
	}
	return newRemoteJudge(name, cfg, call, rec, logger)
}
