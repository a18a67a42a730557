package main

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Metric is a numeric aggregate computable over transactions or line items.
type Metric string

const (
	MetricRevenue        Metric = "revenue"
	MetricCount          Metric = "count"
	MetricQuantity       Metric = "quantity"
	MetricAvgTransaction Metric = "average_transaction"
	MetricAvgItemPrice   Metric = "average_item_price"
)

var validMetrics = map[Metric]bool{
	MetricRevenue:        true,
	MetricCount:          true,
	MetricQuantity:       true,
	MetricAvgTransaction: true,
	MetricAvgItemPrice:   true,
}

// Dimension is a categorical axis used to partition aggregation results.
type Dimension string

const (
	DimLocation Dimension = "location"
	DimItem     Dimension = "item"
	DimMonth    Dimension = "month"
	DimDate     Dimension = "date"
)

var validDimensions = map[Dimension]bool{
	DimLocation: true,
	DimItem:     true,
	DimMonth:    true,
	DimDate:     true,
}

// DateRange is a resolved period. End is exclusive for 24-hour windows like
// "today"; calendar periods end at 23:59:59.999 of their last day.
type DateRange struct {
	Label string
	Start time.Time
	End   time.Time
}

func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// QueryParameters is the validated, structured intent of a question.
// Zero DateRanges means all time; two or more is a comparison query.
type QueryParameters struct {
	Metrics       []Metric
	GroupBy       []Dimension
	DateRanges    []DateRange
	LocationIDs   []string
	ItemNames     []string
	SortBy        Metric
	SortDirection string // "asc" or "desc"
	Limit         int
}

// ResultRow is one line of an aggregation result. Populated dimension fields
// match the query's GroupBy; the Metrics map keys match the query's Metrics.
// Money values are in major currency units.
type ResultRow struct {
	LocationID   string             `json:"location_id,omitempty"`
	LocationName string             `json:"location_name,omitempty"`
	ItemName     string             `json:"item_name,omitempty"`
	MonthLabel   string             `json:"month,omitempty"`
	DateLabel    string             `json:"date,omitempty"`
	PeriodLabel  string             `json:"period,omitempty"`
	Metrics      map[Metric]float64 `json:"metrics"`
}

// GroupLabel is the concatenation of the row's populated dimension values,
// used as a deterministic secondary sort key.
func (r ResultRow) GroupLabel() string {
	parts := []string{}
	if r.PeriodLabel != "" {
		parts = append(parts, r.PeriodLabel)
	}
	if r.LocationName != "" {
		parts = append(parts, r.LocationName)
	} else if r.LocationID != "" {
		parts = append(parts, r.LocationID)
	}
	if r.ItemName != "" {
		parts = append(parts, r.ItemName)
	}
	if r.MonthLabel != "" {
		parts = append(parts, r.MonthLabel)
	}
	if r.DateLabel != "" {
		parts = append(parts, r.DateLabel)
	}
	return strings.Join(parts, " / ")
}

type QueryResult struct {
	Success     bool
	Error       string
	Rows        []ResultRow
	RecordCount int
	QueryPlan   string
	Parameters  QueryParameters
	Summary     string
}

// ChatMessage is one turn of the conversation passed alongside an utterance.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatResponse is the envelope returned to the HTTP layer. The pipeline
// guarantees a well-formed envelope in all cases.
type ChatResponse struct {
	Success     bool        `json:"success"`
	Summary     string      `json:"summary"`
	Rows        []ResultRow `json:"rows,omitempty"`
	RecordCount int         `json:"record_count"`
	QueryPlan   string      `json:"query_plan,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Location is a persisted business location record.
type Location struct {
	ID   string
	Name string
}

// Transaction mirrors a row of the transactions table. TotalAmount is in
// integer minor currency units.
type Transaction struct {
	ID          string
	LocationID  string
	CreatedAt   time.Time
	TotalAmount int64
	State       string
	LineItems   []LineItem
}

// LineItem mirrors a row of the line_items table. TotalPrice is in integer
// minor currency units.
type LineItem struct {
	ID            string
	TransactionID string
	ItemName      string
	Quantity      int64
	TotalPrice    int64
}

// MinorToMajor converts integer minor currency units to major units.
// Division happens here, after aggregation, never inside a sum.
func MinorToMajor(minor int64) float64 {
	return float64(minor) / 100
}

// FormatCurrency renders a major-unit amount with two decimals.
func FormatCurrency(major float64) string {
	return fmt.Sprintf("$%.2f", major)
}

func dedupMetrics(in []Metric) []Metric {
	seen := make(map[Metric]bool, len(in))
	var out []Metric
	for _, m := range in {
		if !validMetrics[m] || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func dedupDimensions(in []Dimension) []Dimension {
	seen := make(map[Dimension]bool, len(in))
	var out []Dimension
	for _, d := range in {
		if !validDimensions[d] || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

func containsDimension(dims []Dimension, d Dimension) bool {
	for _, x := range dims {
		if x == d {
			return true
		}
	}
	return false
}

func containsMetric(metrics []Metric, m Metric) bool {
	for _, x := range metrics {
		if x == m {
			return true
		}
	}
	return false
}

func sortedStrings(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
