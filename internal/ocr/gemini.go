package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"scontrino/internal/core"
	"scontrino/internal/log"
)

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s"

// GeminiExtractor implements Extractor against the Gemini REST API. The
// extraction runs in two passes: a vision call that lists the receipt's
// items, then a text call that assigns each a category.
type GeminiExtractor struct {
	apiKey     string
	model      string
	categories []string
	httpClient *http.Client
	logger     *log.Logger
}

type GeminiOption func(*GeminiExtractor)

// WithCategories sets the category vocabulary offered to the model.
func WithCategories(names []string) GeminiOption {
	return func(g *GeminiExtractor) { g.categories = names }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) GeminiOption {
	return func(g *GeminiExtractor) { g.httpClient = c }
}

func NewGeminiExtractor(apiKey, model string, logger *log.Logger, opts ...GeminiOption) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, errors.New("missing gemini api key")
	}
	if model == "" {
		return nil, errors.New("missing gemini model")
	}
	g := &GeminiExtractor{
		apiKey:     apiKey,
		model:      model,
		categories: []string{"Groceries", "Dining", "Entertainment", "Household", "Health", "Transport", "Clothing", "Other"},
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.WithComponent(log.ComponentOCR),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ExtractItems implements Extractor.
func (g *GeminiExtractor) ExtractItems(ctx context.Context, image []byte, mimeType string) ([]core.ScannedItem, error) {
	if len(image) == 0 {
		return nil, errors.New("empty image")
	}

	text, err := g.generate(ctx, extractRequest(image, mimeType))
	if err != nil {
		return nil, fmt.Errorf("extract receipt text: %w", err)
	}

	items, err := parseItemLines(text)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}

	catText, err := g.generate(ctx, textRequest(buildCategorizePrompt(names, g.categories)))
	if err != nil {
		// Items without categories are still usable on the review screen.
		g.logger.WarnContext(ctx, "categorization failed",
			log.FieldError, err.Error(),
			log.FieldItemCount, len(items))
		applyCategories(items, nil)
		return items, nil
	}
	applyCategories(items, parseCategoryLines(catText))

	g.logger.InfoContext(ctx, "receipt items extracted",
		log.FieldOperation, log.OpExtract,
		log.FieldItemCount, len(items))
	return items, nil
}

// generate posts one generateContent request and returns the first
// candidate's text.
func (g *GeminiExtractor) generate(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf(geminiEndpoint, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call gemini: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini api status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("empty gemini response")
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}

func extractRequest(image []byte, mimeType string) map[string]any {
	return map[string]any{
		"contents": []map[string]any{{
			"parts": []map[string]any{
				{"text": extractPrompt},
				{"inline_data": map[string]string{
					"mime_type": mimeType,
					"data":      base64.StdEncoding.EncodeToString(image),
				}},
			},
		}},
		"generationConfig": map[string]any{
			"temperature":     0.2,
			"maxOutputTokens": 2048,
		},
	}
}

func textRequest(prompt string) map[string]any {
	return map[string]any{
		"contents": []map[string]any{{
			"parts": []map[string]any{{"text": prompt}},
		}},
		"generationConfig": map[string]any{
			"temperature":     0.2,
			"maxOutputTokens": 1024,
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
