package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestExtractor(stub *stubCompletions) *ParameterExtractor {
	r := NewLocationResolver("")
	r.Initialize(testLocations())
	e := NewParameterExtractor(stub, r, "UTC")
	e.now = func() time.Time { return testRef }
	return e
}

func TestExtractParsesFencedJSON(t *testing.T) {
	stub := &stubCompletions{responses: []string{"```json\n" +
		`{"metrics": ["revenue"], "groupBy": ["location"], "startDate": "2025-09-13", "endDate": "2025-09-19", "sortBy": "revenue", "sortDirection": "desc", "confidence": 0.9, "reasoning": "weekly revenue by location"}` +
		"\n```"}}
	e := newTestExtractor(stub)

	result := e.Extract(context.Background(), "revenue by location last week", nil)
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	p := result.Parameters
	if len(p.Metrics) != 1 || p.Metrics[0] != MetricRevenue {
		t.Fatalf("expected [revenue], got %v", p.Metrics)
	}
	if len(p.GroupBy) != 1 || p.GroupBy[0] != DimLocation {
		t.Fatalf("expected [location], got %v", p.GroupBy)
	}
	if len(p.DateRanges) != 1 {
		t.Fatalf("expected one date range, got %d", len(p.DateRanges))
	}
	if p.SortBy != MetricRevenue || p.SortDirection != "desc" {
		t.Fatalf("unexpected sort %v %v", p.SortBy, p.SortDirection)
	}
	if result.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", result.Confidence)
	}
	if result.Usage.TotalTokens() != 15 {
		t.Fatalf("expected usage from model call, got %+v", result.Usage)
	}
}

func TestExtractMalformedJSONFallsBack(t *testing.T) {
	stub := &stubCompletions{responses: []string{"I think you want revenue data."}}
	e := newTestExtractor(stub)

	result := e.Extract(context.Background(), "how many transactions yesterday", nil)
	if result.Success {
		t.Fatalf("expected failure on unparseable response")
	}
	if result.Error == "" {
		t.Fatalf("expected error message")
	}
	p := result.Parameters
	if len(p.Metrics) != 1 || p.Metrics[0] != MetricCount {
		t.Fatalf("expected inferred count metric, got %v", p.Metrics)
	}
	if len(p.DateRanges) != 1 || p.DateRanges[0].Label != "yesterday" {
		t.Fatalf("expected yesterday range from the utterance, got %v", p.DateRanges)
	}
}

func TestExtractLLMErrorUsesDefaults(t *testing.T) {
	stub := &stubCompletions{errs: []error{errors.New("api unavailable")}}
	e := newTestExtractor(stub)

	result := e.Extract(context.Background(), "show me sales", nil)
	if result.Success {
		t.Fatalf("expected failure on llm error")
	}
	if !strings.Contains(result.Error, "api unavailable") {
		t.Fatalf("expected wrapped llm error, got %q", result.Error)
	}
	p := result.Parameters
	if len(p.Metrics) != 1 || p.Metrics[0] != MetricRevenue {
		t.Fatalf("metrics must never be empty, got %v", p.Metrics)
	}
	if p.SortDirection != "desc" {
		t.Fatalf("expected default sort direction, got %q", p.SortDirection)
	}
}

func TestExtractDropsInvalidEnums(t *testing.T) {
	stub := &stubCompletions{responses: []string{
		`{"metrics": ["revenue", "profit", "revenue"], "groupBy": ["location", "weather"], "confidence": 0.7}`,
	}}
	e := newTestExtractor(stub)

	result := e.Extract(context.Background(), "revenue by location", nil)
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	p := result.Parameters
	if len(p.Metrics) != 1 || p.Metrics[0] != MetricRevenue {
		t.Fatalf("expected invalid and duplicate metrics dropped, got %v", p.Metrics)
	}
	if len(p.GroupBy) != 1 || p.GroupBy[0] != DimLocation {
		t.Fatalf("expected invalid dimensions dropped, got %v", p.GroupBy)
	}
}

func TestExtractComparisonFromUtterance(t *testing.T) {
	// The model hands back a single ISO window; the comparison in the
	// utterance still wins because it is the only source of multiple ranges.
	stub := &stubCompletions{responses: []string{
		`{"metrics": ["revenue"], "startDate": "2024-08-01", "endDate": "2024-08-31", "confidence": 0.8}`,
	}}
	e := newTestExtractor(stub)

	result := e.Extract(context.Background(), "compare august vs september 2024", nil)
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	ranges := result.Parameters.DateRanges
	if len(ranges) != 2 {
		t.Fatalf("expected two comparison ranges, got %v", ranges)
	}
	if ranges[0].Start.Month() != time.August || ranges[1].Start.Month() != time.September {
		t.Fatalf("unexpected range order: %v", ranges)
	}
	if ranges[0].Start.Year() != 2024 || ranges[1].Start.Year() != 2024 {
		t.Fatalf("expected shared year 2024, got %v", ranges)
	}
}

func TestExtractSwapsReversedModelDates(t *testing.T) {
	stub := &stubCompletions{responses: []string{
		`{"metrics": ["revenue"], "startDate": "2025-03-31", "endDate": "2025-03-01", "confidence": 0.8}`,
	}}
	e := newTestExtractor(stub)

	result := e.Extract(context.Background(), "revenue for march", nil)
	ranges := result.Parameters.DateRanges
	if len(ranges) != 1 {
		t.Fatalf("expected one range, got %v", ranges)
	}
	if !ranges[0].Start.Before(ranges[0].End) {
		t.Fatalf("expected start before end after swap, got %v", ranges[0])
	}
	if ranges[0].Start.Day() != 1 {
		t.Fatalf("expected start 2025-03-01, got %v", ranges[0].Start)
	}
	// End is exclusive: midnight of the day after the inclusive end date.
	if ranges[0].End.Day() != 1 || ranges[0].End.Month() != time.April {
		t.Fatalf("expected exclusive end 2025-04-01, got %v", ranges[0].End)
	}
}

func TestExtractResolvesLocationsFromUtterance(t *testing.T) {
	// Model claims no locations; the utterance mentions one.
	stub := &stubCompletions{responses: []string{
		`{"metrics": ["revenue"], "locationKeywords": [], "confidence": 0.8}`,
	}}
	e := newTestExtractor(stub)

	result := e.Extract(context.Background(), "revenue at Yonge today", nil)
	p := result.Parameters
	if len(p.LocationIDs) != 1 || p.LocationIDs[0] != "loc_yonge" {
		t.Fatalf("expected loc_yonge from the utterance, got %v", p.LocationIDs)
	}
}

func TestExtractDedupesItemNames(t *testing.T) {
	stub := &stubCompletions{responses: []string{
		`{"metrics": ["quantity"], "itemNames": ["Latte", "latte", "", "Croissant"], "confidence": 0.8}`,
	}}
	e := newTestExtractor(stub)

	result := e.Extract(context.Background(), "how many lattes and croissants did we sell", nil)
	p := result.Parameters
	if len(p.ItemNames) != 2 || p.ItemNames[0] != "Latte" || p.ItemNames[1] != "Croissant" {
		t.Fatalf("expected deduped item names, got %v", p.ItemNames)
	}
}

func TestExtractFlexibleLimit(t *testing.T) {
	cases := []struct {
		limit string
		want  int
	}{
		{`5`, 5},
		{`"5"`, 5},
		{`5.0`, 5},
		{`null`, 0},
		{`-3`, 0},
	}
	for _, c := range cases {
		stub := &stubCompletions{responses: []string{
			`{"metrics": ["revenue"], "groupBy": ["item"], "limit": ` + c.limit + `, "confidence": 0.8}`,
		}}
		e := newTestExtractor(stub)
		result := e.Extract(context.Background(), "top items", nil)
		if result.Parameters.Limit != c.want {
			t.Fatalf("limit %s: expected %d, got %d", c.limit, c.want, result.Parameters.Limit)
		}
	}
}

func TestExtractSortByDefaultsToFirstMetric(t *testing.T) {
	stub := &stubCompletions{responses: []string{
		`{"metrics": ["quantity"], "groupBy": ["item"], "sortBy": "popularity", "confidence": 0.8}`,
	}}
	e := newTestExtractor(stub)

	result := e.Extract(context.Background(), "best selling items", nil)
	if result.Parameters.SortBy != MetricQuantity {
		t.Fatalf("expected sortBy to fall back to first metric, got %v", result.Parameters.SortBy)
	}
}

func TestExtractPromptsCarryContext(t *testing.T) {
	stub := &stubCompletions{responses: []string{`{"metrics": ["revenue"], "confidence": 0.8}`}}
	e := newTestExtractor(stub)

	history := []ChatMessage{
		{Role: "user", Content: "how did we do last week"},
		{Role: "assistant", Content: "Revenue was $1,234.00."},
	}
	e.Extract(context.Background(), "and the week before?", history)

	if !strings.Contains(stub.lastSystem, "2025-09-19") {
		t.Fatalf("system prompt should carry the current date, got: %s", stub.lastSystem)
	}
	if !strings.Contains(stub.lastUser, "Revenue was $1,234.00.") {
		t.Fatalf("user prompt should include recent turns, got: %s", stub.lastUser)
	}
	if !strings.Contains(stub.lastUser, "and the week before?") {
		t.Fatalf("user prompt should end with the question, got: %s", stub.lastUser)
	}
}
