package main

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"
)

const (
	extractionFailedMessage = "I had trouble understanding your request. Could you rephrase it?"
	executionFailedMessage  = "I encountered an error while retrieving your data. Please try again."
)

// Pipeline sequences extract -> execute -> format and normalizes every
// failure into a well-formed response envelope. No error or panic escapes to
// the HTTP layer.
type Pipeline struct {
	extractor *ParameterExtractor
	executor  *QueryExecutor
	formatter *ResponseFormatter
}

func NewPipeline(cfg Config, db *sql.DB, llm Completions, locations *LocationResolver) *Pipeline {
	return &Pipeline{
		extractor: NewParameterExtractor(llm, locations, cfg.Timezone),
		executor:  NewQueryExecutor(db, locations),
		formatter: NewResponseFormatter(llm),
	}
}

// AnswerQuestion answers a free-form question about transaction history.
// Success is false only for extraction and execution failures; a formatting
// failure still returns the result set with a deterministic summary.
func (p *Pipeline) AnswerQuestion(ctx context.Context, utterance string, history []ChatMessage) (resp ChatResponse) {
	requestID := uuid.NewString()[:8]
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("pipeline panic recovered request=%s err=%v", requestID, r)
			resp = ChatResponse{
				Success: false,
				Summary: executionFailedMessage,
				Error:   "internal error",
			}
		}
		log.Printf("pipeline done request=%s success=%t rows=%d elapsed=%dms",
			requestID, resp.Success, resp.RecordCount, time.Since(started).Milliseconds())
	}()

	log.Printf("pipeline start request=%s utterance=%q history=%d", requestID, utterance, len(history))

	extraction := p.extractor.Extract(ctx, utterance, history)
	if !extraction.Success {
		log.Printf("pipeline extraction failed request=%s err=%s", requestID, extraction.Error)
		return ChatResponse{
			Success: false,
			Summary: extractionFailedMessage,
			Error:   extraction.Error,
		}
	}

	result := p.executor.Execute(ctx, extraction.Parameters)
	if !result.Success {
		log.Printf("pipeline execution failed request=%s err=%s", requestID, result.Error)
		return ChatResponse{
			Success: false,
			Summary: executionFailedMessage,
			Error:   result.Error,
		}
	}

	result = p.formatter.Format(ctx, utterance, result)

	return ChatResponse{
		Success:     true,
		Summary:     result.Summary,
		Rows:        result.Rows,
		RecordCount: result.RecordCount,
		QueryPlan:   result.QueryPlan,
	}
}
