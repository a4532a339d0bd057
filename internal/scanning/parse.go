package scanning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/warranty-tracker/internal/guarantee"
)

const notAvailable = "N/A"

// amountNoise matches everything a model may wrap around a number: currency
// symbols, codes and thousands separators.
var amountNoise = regexp.MustCompile(`[^0-9.\-]`)

// rawSuggestion is the JSON shape the prompt asks for
type rawSuggestion struct {
	Shop          string          `json:"shop"`
	PurchaseDate  string          `json:"purchase_date"`
	Documentation string          `json:"documentation"`
	TotalAmount   json.RawMessage `json:"total_amount"`
}

// parseSuggestionJSON parses a model response. Dates that cannot be read
// fall back to today, as do missing ones.
func parseSuggestionJSON(text string, now time.Time) (*Suggestion, error) {
	// Remove markdown code blocks if present
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var raw rawSuggestion
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	s := &Suggestion{
		Shop:          orNotAvailable(raw.Shop),
		Documentation: orNotAvailable(raw.Documentation),
		TotalAmount:   parseAmount(raw.TotalAmount),
	}

	s.PurchaseDate = guarantee.Format(now)
	if date := strings.TrimSpace(raw.PurchaseDate); date != "" {
		if normalized, err := guarantee.Normalize(date); err == nil {
			s.PurchaseDate = normalized
		}
	}

	return s, nil
}

// parseAmount accepts numbers, numeric strings with currency noise and null
func parseAmount(raw json.RawMessage) decimal.NullDecimal {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return decimal.NullDecimal{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		text = s
	}
	text = amountNoise.ReplaceAllString(strings.ReplaceAll(text, ",", "."), "")
	// "1.234.56" after comma folding: keep the last separator as the decimal point
	if strings.Count(text, ".") > 1 {
		last := strings.LastIndex(text, ".")
		text = strings.ReplaceAll(text[:last], ".", "") + text[last:]
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func orNotAvailable(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return notAvailable
	}
	return s
}
