package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// QueryExecutor translates validated query parameters into read-only
// aggregation queries. Money stays in integer minor units through SQL
// (sum-then-divide); conversion to major units happens once per row in Go.
type QueryExecutor struct {
	db        *sql.DB
	locations *LocationResolver
}

func NewQueryExecutor(db *sql.DB, locations *LocationResolver) *QueryExecutor {
	return &QueryExecutor{db: db, locations: locations}
}

// Execute runs one aggregation per date range (concurrently for comparison
// queries), merges the rows, sorts, and truncates. All-or-nothing: any range
// failing fails the whole result.
func (e *QueryExecutor) Execute(ctx context.Context, params QueryParameters) QueryResult {
	started := time.Now()

	ranges := params.DateRanges
	labelPeriods := len(ranges) > 1
	if len(ranges) == 0 {
		ranges = []DateRange{{}} // all time
	}

	results := make([][]ResultRow, len(ranges))
	errs := make([]error, len(ranges))

	var wg sync.WaitGroup
	for i, rng := range ranges {
		wg.Add(1)
		go func(idx int, rng DateRange) {
			defer wg.Done()
			rows, err := e.runAggregation(ctx, params, rng, labelPeriods)
			results[idx], errs[idx] = rows, err
		}(i, rng)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			log.Printf("execute error: %v", err)
			return QueryResult{
				Success:    false,
				Error:      fmt.Sprintf("query execution failed: %v", err),
				Parameters: params,
			}
		}
	}

	var rows []ResultRow
	for _, part := range results {
		rows = append(rows, part...)
	}

	sortRows(rows, params)
	if params.Limit > 0 && len(rows) > params.Limit {
		rows = rows[:params.Limit]
	}

	plan := describePlan(params, len(ranges))
	log.Printf("execute ok rows=%d ranges=%d elapsed=%dms", len(rows), len(ranges), time.Since(started).Milliseconds())

	return QueryResult{
		Success:     true,
		Rows:        rows,
		RecordCount: len(rows),
		QueryPlan:   plan,
		Parameters:  params,
	}
}

// itemScope reports whether the aggregation must run over line items joined
// to transactions rather than transactions alone.
func itemScope(params QueryParameters) bool {
	return containsDimension(params.GroupBy, DimItem) ||
		len(params.ItemNames) > 0 ||
		containsMetric(params.Metrics, MetricQuantity) ||
		containsMetric(params.Metrics, MetricAvgItemPrice)
}

func (e *QueryExecutor) runAggregation(ctx context.Context, params QueryParameters, rng DateRange, labelPeriod bool) ([]ResultRow, error) {
	items := itemScope(params)

	var selects []string
	var groupCols []string
	scanDims := []Dimension{}

	for _, dim := range params.GroupBy {
		switch dim {
		case DimLocation:
			selects = append(selects, "t.location_id")
			groupCols = append(groupCols, "t.location_id")
			scanDims = append(scanDims, DimLocation)
		case DimItem:
			if !items {
				continue
			}
			selects = append(selects, "li.item_name")
			groupCols = append(groupCols, "li.item_name")
			scanDims = append(scanDims, DimItem)
		case DimMonth:
			selects = append(selects, "strftime('%Y-%m', t.created_at) AS month")
			groupCols = append(groupCols, "month")
			scanDims = append(scanDims, DimMonth)
		case DimDate:
			selects = append(selects, "strftime('%Y-%m-%d', t.created_at) AS day")
			groupCols = append(groupCols, "day")
			scanDims = append(scanDims, DimDate)
		}
	}

	if items {
		selects = append(selects,
			"COUNT(DISTINCT t.id) AS txn_count",
			"COALESCE(SUM(li.total_price), 0) AS amount_minor",
			"COALESCE(SUM(li.quantity), 0) AS qty",
		)
	} else {
		selects = append(selects,
			"COUNT(t.id) AS txn_count",
			"COALESCE(SUM(t.total_amount), 0) AS amount_minor",
		)
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + strings.Join(selects, ", "))
	if items {
		sb.WriteString(" FROM line_items li JOIN transactions t ON t.id = li.transaction_id")
	} else {
		sb.WriteString(" FROM transactions t")
	}

	conds := []string{"t.state = 'COMPLETED'"}
	var args []any
	if !rng.IsZero() {
		conds = append(conds, "t.created_at >= ?", "t.created_at < ?")
		args = append(args, rng.Start, rng.End)
	}
	if len(params.LocationIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(params.LocationIDs)), ", ")
		conds = append(conds, "t.location_id IN ("+placeholders+")")
		for _, id := range params.LocationIDs {
			args = append(args, id)
		}
	}
	if items && len(params.ItemNames) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(params.ItemNames)), ", ")
		conds = append(conds, "li.item_name IN ("+placeholders+")")
		for _, name := range params.ItemNames {
			args = append(args, name)
		}
	}
	sb.WriteString(" WHERE " + strings.Join(conds, " AND "))

	if len(groupCols) > 0 {
		sb.WriteString(" GROUP BY " + strings.Join(groupCols, ", "))
	}

	dbRows, err := e.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("aggregation query: %w", err)
	}
	defer dbRows.Close()

	var rows []ResultRow
	for dbRows.Next() {
		dimVals := make([]string, len(scanDims))
		var txnCount, amountMinor, qty int64

		dest := make([]any, 0, len(scanDims)+3)
		for i := range dimVals {
			dest = append(dest, &dimVals[i])
		}
		dest = append(dest, &txnCount, &amountMinor)
		if items {
			dest = append(dest, &qty)
		}
		if err := dbRows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning aggregation row: %w", err)
		}

		// An ungrouped aggregate over zero matching records still yields one
		// SQL row; drop it so "no data" is an empty result set.
		if len(scanDims) == 0 && txnCount == 0 {
			continue
		}

		row := ResultRow{Metrics: make(map[Metric]float64, len(params.Metrics))}
		if labelPeriod {
			row.PeriodLabel = rng.Label
		}
		for i, dim := range scanDims {
			switch dim {
			case DimLocation:
				row.LocationID = dimVals[i]
				row.LocationName = e.locations.DisplayName(dimVals[i])
			case DimItem:
				row.ItemName = dimVals[i]
			case DimMonth:
				row.MonthLabel = dimVals[i]
			case DimDate:
				row.DateLabel = dimVals[i]
			}
		}

		revenue := MinorToMajor(amountMinor)
		for _, m := range params.Metrics {
			switch m {
			case MetricRevenue:
				row.Metrics[MetricRevenue] = revenue
			case MetricCount:
				row.Metrics[MetricCount] = float64(txnCount)
			case MetricQuantity:
				row.Metrics[MetricQuantity] = float64(qty)
			case MetricAvgTransaction:
				if txnCount > 0 {
					row.Metrics[MetricAvgTransaction] = revenue / float64(txnCount)
				} else {
					row.Metrics[MetricAvgTransaction] = 0
				}
			case MetricAvgItemPrice:
				if qty > 0 {
					row.Metrics[MetricAvgItemPrice] = revenue / float64(qty)
				} else {
					row.Metrics[MetricAvgItemPrice] = 0
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, dbRows.Err()
}

// sortRows orders by the requested metric with the group label as a
// deterministic secondary key, so tied rows are stable across runs.
func sortRows(rows []ResultRow, params QueryParameters) {
	sortBy := params.SortBy
	desc := params.SortDirection != "asc"

	sort.SliceStable(rows, func(i, j int) bool {
		if sortBy != "" {
			vi, vj := rows[i].Metrics[sortBy], rows[j].Metrics[sortBy]
			if vi != vj {
				if desc {
					return vi > vj
				}
				return vi < vj
			}
		}
		return rows[i].GroupLabel() < rows[j].GroupLabel()
	})
}

func describePlan(params QueryParameters, rangeCount int) string {
	metricNames := make([]string, len(params.Metrics))
	for i, m := range params.Metrics {
		metricNames[i] = string(m)
	}
	scope := "transactions"
	if itemScope(params) {
		scope = "line items"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "aggregate %s over %s", strings.Join(metricNames, ", "), scope)
	if len(params.GroupBy) > 0 {
		dimNames := make([]string, len(params.GroupBy))
		for i, d := range params.GroupBy {
			dimNames[i] = string(d)
		}
		fmt.Fprintf(&b, " grouped by %s", strings.Join(dimNames, ", "))
	}
	switch {
	case rangeCount > 1:
		fmt.Fprintf(&b, "; comparing %d periods", rangeCount)
	case len(params.DateRanges) == 1:
		rng := params.DateRanges[0]
		fmt.Fprintf(&b, "; period %s (%s to %s)", rng.Label, rng.Start.Format("2006-01-02"), rng.End.Format("2006-01-02"))
	default:
		b.WriteString("; all time")
	}
	if len(params.LocationIDs) > 0 {
		fmt.Fprintf(&b, "; %d location filter(s)", len(params.LocationIDs))
	}
	if len(params.ItemNames) > 0 {
		fmt.Fprintf(&b, "; %d item filter(s)", len(params.ItemNames))
	}
	if params.SortBy != "" {
		fmt.Fprintf(&b, "; sorted by %s %s", params.SortBy, params.SortDirection)
	}
	if params.Limit > 0 {
		fmt.Fprintf(&b, "; limit %d", params.Limit)
	}
	return b.String()
}
