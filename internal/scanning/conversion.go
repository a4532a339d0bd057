package scanning

import (
	"bytes"
	"fmt"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// scannerRole is the system instruction given to every model
const scannerRole = "You read purchase receipts and invoices and report their fields accurately. Never guess a value you cannot read."

// receiptScanPrompt is the shared prompt used by all LLM providers for scanning receipts
const receiptScanPrompt = `You are analyzing a purchase receipt or invoice. Carefully read all text in the image and extract the following information:

1. **Shop**: The merchant or store name, usually the largest text in the header. Examples: "Coolblue", "MediaMarkt", "IKEA".

2. **Purchase date**: The transaction or invoice date, converted to ISO 8601 format (YYYY-MM-DD).

3. **Documentation**: What kind of document this is: "Invoice", "Receipt", "Warranty card" or "Delivery note".

4. **Total amount**: The final total or amount due, as a plain number (e.g., 42.75 for €42,75).

Return ONLY valid JSON in this exact format:
{
  "shop": "Shop Name",
  "purchase_date": "YYYY-MM-DD",
  "documentation": "Invoice",
  "total_amount": 0.00
}

Important:
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// pdfToImage renders the first page of a PDF as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Render the first page (most receipts are single page)
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// prepareImageData turns an accepted upload into an image a vision model can
// read. It returns the image bytes and their format suffix ("png" or "jpeg").
func prepareImageData(imageData []byte, contentType string) ([]byte, string, error) {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "application/pdf":
		pngData, err := pdfToImage(imageData)
		if err != nil {
			return nil, "", fmt.Errorf("converting PDF to image: %w", err)
		}
		return pngData, "png", nil
	case "image/png":
		return imageData, "png", nil
	case "image/jpeg", "image/jpg":
		return imageData, "jpeg", nil
	default:
		return nil, "", fmt.Errorf("unsupported content type %q, expected PDF, JPEG or PNG", contentType)
	}
}
