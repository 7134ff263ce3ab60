package prompt

import (
	"encoding/json"
	"fmt"
)

// GetReportSystemPrompt directs the model to write the analysis report.
func GetReportSystemPrompt() string {
	return `You are a trade compliance advisor. You receive a computed tariff and supply-chain risk analysis as JSON.
Do not change or recompute any number. Summarize the result and add concrete optimization ideas grounded in the data (sourcing, agreements, rules of origin).
Produce one valid JSON object only (no markdown, no code fences) with exactly these fields:
{
  "summary_text": "<string>",
  "optimization_suggestions": ["<string>"],
  "risk_advisory": "<string>"
}`
}

// ReportUserPrompt embeds the analysis record.
func ReportUserPrompt(record any) (string, error) {
	r, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Write the report for this analysis and respond with the JSON per schema.\n%s", r), nil
}
