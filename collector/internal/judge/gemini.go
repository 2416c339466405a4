package judge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
)

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig geminiGeneration `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGeneration struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Gemini takes the key as a query parameter and has no system role, so the
// prompt is prepended to the payload.
func newGeminiJudge(name string, cfg BackendConfig, client *http.Client, rec Recorder, logger *slog.Logger) Judge {
	call := func(ctx context.Context, system, user string) (string, error) {
		req := geminiRequest{
			Contents: []geminiContent{{Parts: []geminiPart{{Text: system + "\n\n" + user}}}},
			GenerationConfig: geminiGeneration{
				Temperature:      0.2,
				MaxOutputTokens:  cfg.MaxTokens,
				ResponseMimeType: "application/json",
			},
		}

		endpoint := cfg.Endpoint + "?key=" + url.QueryEscape(cfg.APIKey)
		var resp geminiResponse
		if err := postJSON(ctx, client, endpoint, nil, req, &resp); err != nil {
			return "", redactKey(err, cfg.APIKey)
		}
		if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			return "", errors.New("no candidates in response")
		}
		return resp.Candidates[0].Content.Parts[0].Text, nil
	}
	return newRemoteJudge(name, cfg, call, rec, logger)
}

// redactKey strips the key from transport errors, which quote the URL.
func redactKey(err error, key string) error {
	if key == "" {
		return err
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return errors.New("sending request: " + uerr.Op + " " + uerr.Err.Error())
	}
	return err
}
