package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
)

const noDataMessage = "No data was found for your query. Try a different date range or filter."

// ResponseFormatter turns an executed result set into a natural-language
// summary. The model call is constrained to the numbers actually present in
// the rows; if it fails, a deterministic template summary is used instead so
// the user always gets an accurate, if terse, answer.
type ResponseFormatter struct {
	llm Completions
}

func NewResponseFormatter(llm Completions) *ResponseFormatter {
	return &ResponseFormatter{llm: llm}
}

func (f *ResponseFormatter) Format(ctx context.Context, utterance string, result QueryResult) QueryResult {
	if len(result.Rows) == 0 {
		result.Summary = noDataMessage
		return result
	}

	rendered := renderRows(result)
	systemPrompt := buildSummarySystemPrompt()
	userPrompt := fmt.Sprintf("Question: %s\n\nQuery results:\n%s\nWrite the summary.", utterance, rendered)

	summary, usage, err := f.llm.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		log.Printf("format llm error, using fallback summary: %v", err)
		result.Summary = FallbackSummary(result)
		return result
	}

	summary = strings.TrimSpace(summary)
	if summary == "" {
		result.Summary = FallbackSummary(result)
		return result
	}

	log.Printf("format ok rows=%d tokens_in=%d tokens_out=%d", len(result.Rows), usage.InputTokens, usage.OutputTokens)
	result.Summary = summary
	return result
}

func buildSummarySystemPrompt() string {
	return `You summarize sales query results for a business operator.
Rules:
- Use ONLY the numbers present in the query results. Never invent, estimate, or round beyond the given precision.
- Never compare to periods that are not in the results, and never fabricate growth percentages.
- Keep it to 2-3 sentences, plain prose, no markdown.
- Currency amounts are already in dollars; keep two decimal places.`
}

// renderRows produces the deterministic textual rendering of every row's
// populated dimension and metric fields that the model is allowed to quote.
func renderRows(result QueryResult) string {
	var b strings.Builder
	for i, row := range result.Rows {
		var parts []string
		if row.PeriodLabel != "" {
			parts = append(parts, "period: "+row.PeriodLabel)
		}
		if row.LocationName != "" {
			parts = append(parts, "location: "+row.LocationName)
		}
		if row.ItemName != "" {
			parts = append(parts, "item: "+row.ItemName)
		}
		if row.MonthLabel != "" {
			parts = append(parts, "month: "+row.MonthLabel)
		}
		if row.DateLabel != "" {
			parts = append(parts, "date: "+row.DateLabel)
		}
		for _, m := range metricOrder(row.Metrics) {
			parts = append(parts, fmt.Sprintf("%s: %s", m, formatMetricValue(m, row.Metrics[m])))
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.Join(parts, " | "))
	}
	if len(result.Parameters.DateRanges) > 0 {
		var labels []string
		for _, rng := range result.Parameters.DateRanges {
			labels = append(labels, rng.Label)
		}
		fmt.Fprintf(&b, "Period(s): %s\n", strings.Join(labels, ", "))
	}
	return b.String()
}

// FallbackSummary builds a summary from the rows alone, with no model call.
// It always states the row count; a single ungrouped row also gets its
// metric values spelled out.
func FallbackSummary(result QueryResult) string {
	n := len(result.Rows)
	if n == 0 {
		return noDataMessage
	}

	plural := "results"
	if n == 1 {
		plural = "result"
	}
	summary := fmt.Sprintf("Found %d %s for your query.", n, plural)

	if n == 1 && len(result.Parameters.GroupBy) == 0 {
		row := result.Rows[0]
		var parts []string
		for _, m := range metricOrder(row.Metrics) {
			parts = append(parts, fmt.Sprintf("%s was %s", metricLabel(m), formatMetricValue(m, row.Metrics[m])))
		}
		if len(parts) > 0 {
			summary += " " + strings.Join(parts, "; ") + "."
		}
	}
	return summary
}

func metricOrder(metrics map[Metric]float64) []Metric {
	order := []Metric{MetricRevenue, MetricCount, MetricQuantity, MetricAvgTransaction, MetricAvgItemPrice}
	var out []Metric
	for _, m := range order {
		if _, ok := metrics[m]; ok {
			out = append(out, m)
		}
	}
	// Anything unexpected still gets rendered, after the known metrics.
	if len(out) < len(metrics) {
		known := make(map[Metric]bool, len(out))
		for _, m := range out {
			known[m] = true
		}
		var rest []Metric
		for m := range metrics {
			if !known[m] {
				rest = append(rest, m)
			}
		}
		sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
		out = append(out, rest...)
	}
	return out
}

func metricLabel(m Metric) string {
	switch m {
	case MetricRevenue:
		return "Revenue"
	case MetricCount:
		return "Transaction count"
	case MetricQuantity:
		return "Quantity sold"
	case MetricAvgTransaction:
		return "Average transaction"
	case MetricAvgItemPrice:
		return "Average item price"
	default:
		return string(m)
	}
}

func formatMetricValue(m Metric, v float64) string {
	switch m {
	case MetricRevenue, MetricAvgTransaction, MetricAvgItemPrice:
		return FormatCurrency(v)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
