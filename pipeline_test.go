package main

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"
)

const sept18ExtractionJSON = `{"metrics": ["revenue", "count"], "startDate": "2025-09-18", "endDate": "2025-09-18", "sortDirection": "desc", "confidence": 0.9}`

func newTestPipeline(t *testing.T, stub *stubCompletions) (*Pipeline, *sql.DB) {
	t.Helper()
	db := newTestDB(t)
	seedSampleTransactions(t, db)
	p := NewPipeline(Config{Timezone: "UTC"}, db, stub, newTestResolver(t, db))
	p.extractor.now = func() time.Time { return testRef }
	return p, db
}

func TestAnswerQuestionSuccess(t *testing.T) {
	stub := &stubCompletions{responses: []string{
		sept18ExtractionJSON,
		"Revenue on September 18 was $20.00 across 2 transactions.",
	}}
	p, _ := newTestPipeline(t, stub)

	resp := p.AnswerQuestion(context.Background(), "how did we do on september 18", nil)
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
	if resp.Summary != "Revenue on September 18 was $20.00 across 2 transactions." {
		t.Fatalf("unexpected summary: %q", resp.Summary)
	}
	if resp.RecordCount != 1 || len(resp.Rows) != 1 {
		t.Fatalf("expected one row, got %d", resp.RecordCount)
	}
	if resp.Rows[0].Metrics[MetricRevenue] != 20.00 {
		t.Fatalf("expected revenue 20.00, got %v", resp.Rows[0].Metrics)
	}
	if resp.QueryPlan == "" {
		t.Fatalf("expected a query plan")
	}
	if stub.calls != 2 {
		t.Fatalf("expected one extraction and one summary call, got %d", stub.calls)
	}
}

func TestAnswerQuestionExtractionFailure(t *testing.T) {
	stub := &stubCompletions{responses: []string{"sorry, I can't produce JSON today"}}
	p, _ := newTestPipeline(t, stub)

	resp := p.AnswerQuestion(context.Background(), "revenue yesterday", nil)
	if resp.Success {
		t.Fatalf("expected failure on unparseable extraction")
	}
	if resp.Summary != extractionFailedMessage {
		t.Fatalf("expected the rephrase message, got %q", resp.Summary)
	}
	if resp.Error == "" {
		t.Fatalf("expected the underlying error to be carried")
	}
	if stub.calls != 1 {
		t.Fatalf("formatter must not run after extraction failure, calls=%d", stub.calls)
	}
}

func TestAnswerQuestionExecutionFailure(t *testing.T) {
	stub := &stubCompletions{responses: []string{sept18ExtractionJSON}}
	p, db := newTestPipeline(t, stub)
	if _, err := db.Exec("DROP TABLE transactions"); err != nil {
		t.Fatalf("dropping table failed: %v", err)
	}

	resp := p.AnswerQuestion(context.Background(), "revenue on september 18", nil)
	if resp.Success {
		t.Fatalf("expected failure after schema loss")
	}
	if resp.Summary != executionFailedMessage {
		t.Fatalf("expected the retry message, got %q", resp.Summary)
	}
}

func TestAnswerQuestionFormatFailureStillSucceeds(t *testing.T) {
	stub := &stubCompletions{
		responses: []string{sept18ExtractionJSON},
		errs:      []error{nil, errors.New("summary model down")},
	}
	p, _ := newTestPipeline(t, stub)

	resp := p.AnswerQuestion(context.Background(), "revenue on september 18", nil)
	if !resp.Success {
		t.Fatalf("a formatting failure must not fail the request, got error %q", resp.Error)
	}
	if !strings.Contains(resp.Summary, "Found 1 result") {
		t.Fatalf("expected fallback summary, got %q", resp.Summary)
	}
	if !strings.Contains(resp.Summary, "Revenue was $20.00") {
		t.Fatalf("fallback should state the revenue, got %q", resp.Summary)
	}
}

func TestAnswerQuestionNoData(t *testing.T) {
	stub := &stubCompletions{responses: []string{
		`{"metrics": ["revenue"], "startDate": "2020-01-01", "endDate": "2020-12-31", "confidence": 0.9}`,
	}}
	p, _ := newTestPipeline(t, stub)

	resp := p.AnswerQuestion(context.Background(), "revenue in 2020", nil)
	if !resp.Success {
		t.Fatalf("no data is not an error, got %q", resp.Error)
	}
	if resp.Summary != noDataMessage {
		t.Fatalf("expected no-data message, got %q", resp.Summary)
	}
	if resp.RecordCount != 0 {
		t.Fatalf("expected zero records, got %d", resp.RecordCount)
	}
	if stub.calls != 1 {
		t.Fatalf("no summary call expected for empty results, calls=%d", stub.calls)
	}
}
