// Package ollama adapts a local Ollama server to the completion port.
// Text generation and vision transcription go through the same /api/generate
// endpoint; vision requests carry the page image inline as base64.
package ollama

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docintel/internal/core/ports"
	"github.com/kirillkom/docintel/internal/infrastructure/resilience"
)

type Client struct {
	baseURL     string
	genModel    string
	visionModel string
	httpClient  *http.Client
	executor    *resilience.Executor
}

func New(baseURL, genModel, visionModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		genModel:    genModel,
		visionModel: visionModel,
		// Vision transcription of a dense page can take minutes on
		// consumer hardware.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		executor:   executor,
	}
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": 0.1,
		},
	}
	return c.generate(ctx, reqBody, "generate")
}

func (c *Client) GenerateVision(ctx context.Context, prompt string, imagePNG []byte) (string, error) {
	reqBody := map[string]any{
		"model":  c.visionModel,
		"prompt": prompt,
		"stream": false,
		"images": []string{base64.StdEncoding.EncodeToString(imagePNG)},
		"options": map[string]any{
			"temperature": 0.1,
		},
	}
	return c.generate(ctx, reqBody, "generate_vision")
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any, operation string) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	call := func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", reqBody, &response, operation)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama_"+operation, call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded(operation, err)
	}
	return strings.TrimSpace(response.Response), nil
}

var _ ports.CompletionClient = (*Client)(nil)
