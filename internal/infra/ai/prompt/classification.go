package prompt

import (
	"fmt"
	"strings"

	"github.com/bryanwahyu/tradelane/internal/domain/trade"
)

// GetClassificationSystemPrompt provides strict directions and the schema the
// classifier must answer with.
func GetClassificationSystemPrompt() string {
	return `You are a global trade classification expert. You must produce one valid JSON object only (no markdown, no commentary, no code fences) that follows the schema below.

Requirements:
- hs_code is a Harmonized System code such as "8501.10". Choose one from the supported list when possible.
- confidence is a number between 0 and 1.
- materials is the bill of materials. Percentages are numbers and must sum to 100.
- origin_country is an uppercase ISO 3166-1 alpha-2 code, or an empty string when unknown.
- stage is one of raw_material, component, subassembly, finished_good.
- Do not add fields that are not in the schema.

Schema (example with empty values):
{
  "hs_code": "<string>",
  "confidence": 0.0,
  "explanation": "<short reasoning>",
  "materials": [
    {
      "id": "<unique id>",
      "name": "<material name>",
      "percentage": 0.0,
      "origin_country": "<ISO2>",
      "stage": "raw_material"
    }
  ]
}`
}

// ClassificationUserPrompt describes the product and lists the HS codes the
// tariff schedule knows about.
func ClassificationUserPrompt(productName, description string, supported []trade.HSCode) string {
	guidance := "any valid HS code"
	if len(supported) > 0 {
		codes := make([]string, len(supported))
		for i, c := range supported {
			codes[i] = string(c)
		}
		guidance = strings.Join(codes, ", ")
	}
	return fmt.Sprintf("Classify this product and respond with the JSON per schema.\nProduct name: %s\nDescription: %s\nSupported HS codes: %s",
		productName, description, guidance)
}

// VisionPrompt asks a vision model for a customs-oriented description.
func VisionPrompt(productName string) string {
	return fmt.Sprintf("Product name hint: %s\nDescribe this product for customs classification. "+
		"Return one concise paragraph including visible materials, intended use, construction details and notable components.", productName)
}
