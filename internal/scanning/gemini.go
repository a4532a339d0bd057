package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when no model is configured
const DefaultGeminiModel = "gemini-2.5-flash"

const geminiTimeout = 30 * time.Second

// Gemini guesses receipt fields with Google Gemini
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewGemini creates a Gemini scanner
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(scannerRole)}}
	model.SetTemperature(0)

	return &Gemini{client: client, model: model, timeout: geminiTimeout}, nil
}

// ScanReceipt asks Gemini for the receipt-level fields of a receipt
func (g *Gemini) ScanReceipt(imageData []byte, contentType string) (*Suggestion, error) {
	page, format, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	// ImageData takes the subtype only ("png", "jpeg")
	resp, err := g.model.GenerateContent(ctx, genai.ImageData(format, page), genai.Text(receiptScanPrompt))
	if err != nil {
		return nil, fmt.Errorf("asking gemini: %w", err)
	}

	answer, err := geminiAnswer(resp)
	if err != nil {
		return nil, err
	}
	suggestion, err := parseSuggestionJSON(answer, time.Now())
	if err != nil {
		return nil, fmt.Errorf("parsing gemini answer: %w", err)
	}
	return suggestion, nil
}

// geminiAnswer joins the text parts of the first candidate
func geminiAnswer(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text (finish reason %s)", resp.Candidates[0].FinishReason)
	}
	return b.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
