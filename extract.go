package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// ParameterExtractionResult is the outcome of turning an utterance into
// structured query parameters. Parameters always satisfies the
// QueryParameters invariants (non-empty metrics, deduplicated groupBy,
// ordered date ranges) even when Success is false.
type ParameterExtractionResult struct {
	Success    bool
	Parameters QueryParameters
	Confidence float64
	Reasoning  string
	Error      string
	Usage      LLMUsage
}

type ParameterExtractor struct {
	llm       Completions
	locations *LocationResolver
	timezone  string
	now       func() time.Time
}

func NewParameterExtractor(llm Completions, locations *LocationResolver, timezone string) *ParameterExtractor {
	return &ParameterExtractor{llm: llm, locations: locations, timezone: timezone, now: time.Now}
}

// rawExtraction is the JSON shape the model is instructed to return. Fields
// the model gets wrong or omits are tolerated and defaulted later.
type rawExtraction struct {
	Metrics          []string        `json:"metrics"`
	GroupBy          []string        `json:"groupBy"`
	StartDate        string          `json:"startDate"`
	EndDate          string          `json:"endDate"`
	LocationKeywords []string        `json:"locationKeywords"`
	ItemNames        []string        `json:"itemNames"`
	Limit            json.RawMessage `json:"limit"`
	SortBy           string          `json:"sortBy"`
	SortDirection    string          `json:"sortDirection"`
	Confidence       float64         `json:"confidence"`
	Reasoning        string          `json:"reasoning"`
}

// Extract converts the utterance (plus recent conversation turns) into
// validated query parameters via one model call. Model failures, malformed
// JSON, and panics all degrade to a stable default parameter set so
// downstream stages always receive a well-formed object.
func (e *ParameterExtractor) Extract(ctx context.Context, utterance string, history []ChatMessage) (result ParameterExtractionResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("extract panic recovered: %v", r)
			result = ParameterExtractionResult{
				Success:    false,
				Parameters: defaultParameters(),
				Error:      fmt.Sprintf("extraction panic: %v", r),
			}
		}
	}()

	now := e.now()
	systemPrompt := buildExtractionSystemPrompt(now, e.timezone)
	userPrompt := buildExtractionUserPrompt(utterance, history)

	responseText, usage, err := e.llm.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		log.Printf("extract llm error: %v", err)
		return ParameterExtractionResult{
			Success:    false,
			Parameters: e.finalizeParameters(rawExtraction{}, utterance, now),
			Error:      fmt.Sprintf("language model call failed: %v", err),
			Usage:      usage,
		}
	}

	raw, parseErr := parseExtractionResponse(responseText)
	params := e.finalizeParameters(raw, utterance, now)

	if parseErr != nil {
		log.Printf("extract parse error: %v", parseErr)
		return ParameterExtractionResult{
			Success:    false,
			Parameters: params,
			Error:      parseErr.Error(),
			Usage:      usage,
		}
	}

	log.Printf("extract ok metrics=%v groupBy=%v ranges=%d locations=%d items=%d confidence=%.2f",
		params.Metrics, params.GroupBy, len(params.DateRanges), len(params.LocationIDs), len(params.ItemNames), raw.Confidence)
	return ParameterExtractionResult{
		Success:    true,
		Parameters: params,
		Confidence: raw.Confidence,
		Reasoning:  strings.TrimSpace(raw.Reasoning),
		Usage:      usage,
	}
}

// The system prompt is the single source of truth for how the model should
// compute dates; the resolver in dates.go only validates and backfills.
func buildExtractionSystemPrompt(now time.Time, timezone string) string {
	return fmt.Sprintf(`You extract structured query parameters from questions about point-of-sale sales data.
Current date: %s. Current year: %d. Timezone: %s.

Extraction rules:
- metrics: choose from "revenue", "count", "quantity", "average_transaction", "average_item_price".
  "sales"/"revenue"/"how much" -> revenue; "how many"/"number of" -> count;
  "units"/"items sold" -> quantity; "average order"/"average transaction"/"average sale" -> average_transaction;
  "average price" -> average_item_price.
- groupBy: choose from "location", "item", "month", "date".
  "by location"/"which location"/"compare locations" -> location; "top items"/"best sellers" -> item;
  "monthly"/"by month"/"trend" -> month; "daily"/"by day" -> date.
- Dates (return explicit ISO dates, YYYY-MM-DD):
  "today" -> startDate = endDate = current date.
  "yesterday" -> the previous date.
  "last week" -> the most recent 7 days ending today inclusive.
  "last 30 days" -> the 30 days ending today inclusive.
  Named months, quarters, and years -> their first and last calendar day; a month without a year means the current year.
  No time reference -> omit startDate and endDate.
- locationKeywords: any words that look like location references, verbatim.
- itemNames: exact product names mentioned, verbatim.
- limit: only when the question asks for "top N" / "best N".
- sortBy: one of the chosen metrics; sortDirection: "asc" or "desc".

Respond with JSON only (no markdown):
{"metrics": ["revenue"], "groupBy": ["location"], "startDate": "2025-09-13", "endDate": "2025-09-19", "locationKeywords": [], "itemNames": [], "limit": 0, "sortBy": "revenue", "sortDirection": "desc", "confidence": 0.9, "reasoning": "..."}`,
		now.Format("2006-01-02"), now.Year(), timezone)
}

func buildExtractionUserPrompt(utterance string, history []ChatMessage) string {
	if len(history) == 0 {
		return "Question: " + utterance
	}
	const maxTurns = 4
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if len(content) > 300 {
			content = content[:300] + "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, content)
	}
	b.WriteString("\nQuestion: " + utterance)
	return b.String()
}

func parseExtractionResponse(responseText string) (rawExtraction, error) {
	responseText = stripCodeFence(responseText)

	var raw rawExtraction
	if err := json.Unmarshal([]byte(responseText), &raw); err != nil {
		truncated := responseText
		if len(truncated) > 512 {
			truncated = truncated[:512] + fmt.Sprintf("... [truncated, total_length=%d]", len(responseText))
		}
		return rawExtraction{}, fmt.Errorf("parsing extraction response: %w (truncated response: %s)", err, truncated)
	}
	return raw, nil
}

// finalizeParameters validates the raw model output and applies business-rule
// defaults. It runs uniformly whether extraction succeeded, partially failed,
// or returned nothing.
func (e *ParameterExtractor) finalizeParameters(raw rawExtraction, utterance string, now time.Time) QueryParameters {
	var params QueryParameters

	for _, m := range raw.Metrics {
		params.Metrics = append(params.Metrics, Metric(normalizeTextToken(m)))
	}
	params.Metrics = dedupMetrics(params.Metrics)

	for _, d := range raw.GroupBy {
		params.GroupBy = append(params.GroupBy, Dimension(normalizeTextToken(d)))
	}
	params.GroupBy = dedupDimensions(params.GroupBy)

	params.DateRanges = e.resolveRanges(raw, utterance, now)

	// The utterance is authoritative for locations: the resolver owns the
	// real keyword table, the model's locationKeywords field does not.
	params.LocationIDs = e.locations.ResolveLocations(utterance)

	seen := make(map[string]bool)
	for _, name := range raw.ItemNames {
		name = strings.TrimSpace(name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		params.ItemNames = append(params.ItemNames, name)
	}

	if len(params.Metrics) == 0 {
		params.Metrics = []Metric{inferMetric(utterance)}
	}
	if len(params.GroupBy) == 0 {
		params.GroupBy = inferGroupBy(utterance)
	}

	params.Limit = parseFlexibleInt(raw.Limit)
	if params.Limit < 0 {
		params.Limit = 0
	}

	params.SortDirection = normalizeTextToken(raw.SortDirection)
	if params.SortDirection != "asc" && params.SortDirection != "desc" {
		params.SortDirection = "desc"
	}

	sortBy := Metric(normalizeTextToken(raw.SortBy))
	switch {
	case containsMetric(params.Metrics, sortBy):
		params.SortBy = sortBy
	case len(params.GroupBy) > 0 && len(params.Metrics) > 0:
		params.SortBy = params.Metrics[0]
	}

	return params
}

// resolveRanges picks date ranges with this precedence: a comparison
// expression in the utterance always wins (it is the only source of multiple
// ranges), then valid explicit ISO dates from the model, then a single
// resolver match over the utterance, then no date filter.
func (e *ParameterExtractor) resolveRanges(raw rawExtraction, utterance string, now time.Time) []DateRange {
	if resolved, ok := ResolveDateRanges(utterance, now); ok && len(resolved) > 1 {
		return resolved
	}

	start, startOK := parseISODate(raw.StartDate, now.Location())
	end, endOK := parseISODate(raw.EndDate, now.Location())
	if startOK && endOK {
		if end.Before(start) {
			start, end = end, start
		}
		return []DateRange{{
			Label: fmt.Sprintf("%s to %s", start.Format("2006-01-02"), end.Format("2006-01-02")),
			Start: midnight(start),
			End:   midnight(end).AddDate(0, 0, 1),
		}}
	}

	if resolved, ok := ResolveDateRanges(utterance, now); ok {
		return resolved
	}
	return nil
}

func parseISODate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), true
	}
	return time.Time{}, false
}

func parseFlexibleInt(raw json.RawMessage) int {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}
	var asInt int
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return asInt
	}
	var asFloat float64
	if err := json.Unmarshal(raw, &asFloat); err == nil {
		return int(asFloat)
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(asString), "%d", &n); err == nil {
			return n
		}
	}
	return 0
}

// inferMetric guesses a metric from utterance keywords when the model
// returned none. Revenue is the terminal default.
func inferMetric(utterance string) Metric {
	s := strings.ToLower(utterance)
	switch {
	case strings.Contains(s, "how many") || strings.Contains(s, "number of") || strings.Contains(s, "count"):
		return MetricCount
	case strings.Contains(s, "quantity") || strings.Contains(s, "units") || strings.Contains(s, "items sold"):
		return MetricQuantity
	case strings.Contains(s, "average") && strings.Contains(s, "transaction"):
		return MetricAvgTransaction
	case strings.Contains(s, "average") && strings.Contains(s, "price"):
		return MetricAvgItemPrice
	default:
		return MetricRevenue
	}
}

func inferGroupBy(utterance string) []Dimension {
	s := strings.ToLower(utterance)
	var dims []Dimension
	if strings.Contains(s, "location") || strings.Contains(s, "which store") || strings.Contains(s, "compare") {
		dims = append(dims, DimLocation)
	}
	if strings.Contains(s, "item") || strings.Contains(s, "top") || strings.Contains(s, "best") || strings.Contains(s, "product") {
		dims = append(dims, DimItem)
	}
	if strings.Contains(s, "month") {
		dims = append(dims, DimMonth)
	}
	if strings.Contains(s, "daily") || strings.Contains(s, "by day") || strings.Contains(s, "per day") {
		dims = append(dims, DimDate)
	}
	return dims
}

// defaultParameters is the stable fallback set used when extraction fails
// entirely.
func defaultParameters() QueryParameters {
	return QueryParameters{
		Metrics:       []Metric{MetricRevenue},
		SortDirection: "desc",
	}
}
