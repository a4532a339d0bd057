package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultOllamaURL is the address of a local Ollama daemon
	DefaultOllamaURL = "http://localhost:11434"
	// DefaultOllamaModel is a general purpose vision model
	DefaultOllamaModel = "llava"
)

// vision models are slow on CPU
const ollamaTimeout = 120 * time.Second

// ollamaReceiptFormat is the JSON schema passed as the structured output format
var ollamaReceiptFormat = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"shop":          map[string]any{"type": []string{"string", "null"}},
		"purchase_date": map[string]any{"type": []string{"string", "null"}},
		"documentation": map[string]any{"type": []string{"string", "null"}},
		"total_amount":  map[string]any{"type": []string{"number", "null"}},
	},
}

// Ollama guesses receipt fields with a local Ollama vision model
type Ollama struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllama creates an Ollama scanner. The model must be a vision model such
// as llava or qwen2-vl; PDFs are rendered to an image first.
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if modelName == "" {
		modelName = DefaultOllamaModel
	}

	return &Ollama{
		endpoint: strings.TrimSuffix(baseURL, "/") + "/api/generate",
		model:    modelName,
		client:   &http.Client{Timeout: ollamaTimeout},
	}, nil
}

// ollamaGenerateRequest is the body of a non-streaming /api/generate call
type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images"`
	Format  any            `json:"format"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
}

// ScanReceipt asks the model for the receipt-level fields of a receipt
func (o *Ollama) ScanReceipt(imageData []byte, contentType string) (*Suggestion, error) {
	page, _, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   o.model,
		System:  scannerRole,
		Prompt:  receiptScanPrompt,
		Images:  []string{base64.StdEncoding.EncodeToString(page)},
		Format:  ollamaReceiptFormat,
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding ollama request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ollamaTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asking ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var answer ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, fmt.Errorf("decoding ollama response: %w", err)
	}
	if !answer.Done {
		return nil, fmt.Errorf("ollama answer incomplete (%s)", answer.DoneReason)
	}

	suggestion, err := parseSuggestionJSON(answer.Response, time.Now())
	if err != nil {
		return nil, fmt.Errorf("parsing ollama answer: %w", err)
	}
	return suggestion, nil
}

// Close is a no-op; the HTTP client holds nothing open
func (o *Ollama) Close() error {
	return nil
}
