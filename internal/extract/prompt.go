package extract

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

const schemaExample = `{
  "interventions": [
    {
      "name": "Program or service name",
      "type": "%s",
      "description": "Two or three sentences",
      "target_cohort": ["Target groups"],
      "geography": ["%s", "specific locations"],
      "operating_organization": "Organisation running it"
    }
  ],
  "evidence": [
    {
      "title": "Report or study title",
      "evidence_type": "%s",
      "methodology": "How the evidence was produced",
      "findings": "Key findings",
      "author": "Author(s)",
      "organization": "Publishing organisation",
      "publication_date": "YYYY or YYYY-MM-DD"
    }
  ],
  "outcomes": [
    {
      "name": "Outcome name",
      "outcome_type": "%s",
      "description": "What changes",
      "measurement_method": "How it is measured",
      "indicators": "Indicators used",
      "time_horizon": "Short|Medium|Long term",
      "beneficiary": "Young person|Family|Community|System"
    }
  ],
  "contexts": [
    {
      "name": "Place or community",
      "context_type": "%s",
      "location": "Town or region",
      "state": "%s"
    }
  ]
}`

// buildPrompt renders the extraction instructions for content.
func buildPrompt(content string, hints ingest.Hints) string {
	jurisdiction := hints.Jurisdiction
	if jurisdiction == "" {
		jurisdiction = ingest.JurisdictionUnknown
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Extract youth justice information from this Australian (%s) web content.\n\n", jurisdiction)
	b.WriteString("Context about the source:\n")
	if hints.SourceName != "" {
		fmt.Fprintf(&b, "- Source: %s\n", hints.SourceName)
	}
	if hints.Title != "" {
		fmt.Fprintf(&b, "- Page title: %s\n", hints.Title)
	}
	if hints.PredictedType != "" {
		fmt.Fprintf(&b, "- Expected content type: %s\n", hints.PredictedType)
	}
	fmt.Fprintf(&b, "- Jurisdiction: %s\n", jurisdiction)
	fmt.Fprintf(&b, "- Consent level: %s\n", hints.ConsentLevel)
	if hints.CulturalAuthority != nil {
		fmt.Fprintf(&b, "- Cultural authority: %s\n", *hints.CulturalAuthority)
	}
	b.WriteString("\nLook for programs and services, research and evaluations, measured outcomes, ")
	b.WriteString("and the communities or places they operate in. Do not invent entities that the content does not describe. ")
	b.WriteString("Do not assign consent or cultural authority; those come from the source.\n\n")
	b.WriteString("Return ONLY valid JSON (no markdown, no code fences) in this shape, using empty arrays where nothing applies:\n")
	fmt.Fprintf(&b, schemaExample,
		strings.Join(ingest.InterventionTypes, "|"),
		jurisdiction,
		strings.Join(ingest.EvidenceTypes, "|"),
		strings.Join(ingest.OutcomeTypes, "|"),
		strings.Join(ingest.ContextTypes, "|"),
		jurisdiction,
	)
	b.WriteString("\n\nContent:\n")
	b.WriteString(content)
	return b.String()
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// stripFences removes a surrounding ```json ... ``` block.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(s[:nl]), "{") {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
