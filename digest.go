package main

import (
	"context"
	"database/sql"
	"fmt"
	"html"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/slack-go/slack"
)

// Daily digest: a scheduled job that runs yesterday's revenue-by-location
// query through the same executor the chat pipeline uses, posts the summary
// to Slack, and writes an .eml draft for email handoff.

func StartDigestScheduler(cfg Config, db *sql.DB, api *slack.Client, locations *LocationResolver) {
	schedule := strings.TrimSpace(cfg.DigestSchedule)
	if schedule == "" {
		log.Println("Daily digest disabled (digest_schedule not set)")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid digest_schedule '%s': %v — digest disabled", schedule, err)
		return
	}

	log.Printf("Daily digest scheduled (cron: %s)", schedule)

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next digest at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)
			RunDigest(cfg, db, api, locations, time.Now())
		}
	}()
}

func RunDigest(cfg Config, db *sql.DB, api *slack.Client, locations *LocationResolver, now time.Time) {
	digest, err := BuildDailyDigest(db, locations, now)
	if err != nil {
		log.Printf("Digest build error: %v", err)
		return
	}

	if path, err := WriteDigestEmailDraft(digest, cfg.DigestOutputDir, now); err != nil {
		log.Printf("Digest email draft error: %v", err)
	} else {
		log.Printf("Digest email draft written to %s", path)
	}

	if api != nil && cfg.DigestChannelID != "" {
		if _, _, err := api.PostMessage(cfg.DigestChannelID, slack.MsgOptionText(digest, false)); err != nil {
			log.Printf("Digest post error: %v", err)
		}
	}
}

// BuildDailyDigest renders yesterday's totals and per-location breakdown
// using the deterministic formatter only; scheduled output should not depend
// on a model call succeeding.
func BuildDailyDigest(db *sql.DB, locations *LocationResolver, now time.Time) (string, error) {
	yesterday := midnight(now).AddDate(0, 0, -1)
	rng := DateRange{Label: "yesterday", Start: yesterday, End: midnight(now)}

	executor := NewQueryExecutor(db, locations)

	totals := executor.Execute(context.Background(), QueryParameters{
		Metrics:       []Metric{MetricRevenue, MetricCount, MetricAvgTransaction},
		DateRanges:    []DateRange{rng},
		SortDirection: "desc",
	})
	if !totals.Success {
		return "", fmt.Errorf("digest totals query: %s", totals.Error)
	}

	byLocation := executor.Execute(context.Background(), QueryParameters{
		Metrics:       []Metric{MetricRevenue, MetricCount},
		GroupBy:       []Dimension{DimLocation},
		DateRanges:    []DateRange{rng},
		SortBy:        MetricRevenue,
		SortDirection: "desc",
	})
	if !byLocation.Success {
		return "", fmt.Errorf("digest location query: %s", byLocation.Error)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Daily sales digest for %s\n\n", yesterday.Format("Monday, January 2, 2006"))

	if len(totals.Rows) == 0 {
		b.WriteString("No completed transactions recorded.\n")
		return b.String(), nil
	}

	t := totals.Rows[0].Metrics
	fmt.Fprintf(&b, "Total revenue: %s across %.0f transactions (avg %s)\n",
		FormatCurrency(t[MetricRevenue]), t[MetricCount], FormatCurrency(t[MetricAvgTransaction]))

	if len(byLocation.Rows) > 0 {
		b.WriteString("\nBy location:\n")
		for _, row := range byLocation.Rows {
			fmt.Fprintf(&b, "- %s: %s (%.0f transactions)\n",
				row.LocationName, FormatCurrency(row.Metrics[MetricRevenue]), row.Metrics[MetricCount])
		}
	}
	return b.String(), nil
}

func WriteDigestEmailDraft(body, outputDir string, now time.Time) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	reportDate := now.AddDate(0, 0, -1)
	filename := fmt.Sprintf("digest_%s.eml", reportDate.Format("20060102"))
	path := filepath.Join(outputDir, filename)
	subject := fmt.Sprintf("Daily sales digest %s", reportDate.Format("20060102"))
	return path, os.WriteFile(path, []byte(buildEML(subject, body)), 0644)
}

func buildEML(subject, body string) string {
	const boundary = "salesbot-alt"
	headers := []string{
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", boundary),
		fmt.Sprintf("Subject: %s", subject),
	}
	plain := normalizeCRLF(body)
	htmlBody := bodyToHTML(body)

	var out strings.Builder
	out.WriteString(strings.Join(headers, "\r\n"))
	out.WriteString("\r\n\r\n")
	out.WriteString("--" + boundary + "\r\n")
	out.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	out.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	out.WriteString(plain)
	if !strings.HasSuffix(plain, "\r\n") {
		out.WriteString("\r\n")
	}
	out.WriteString("\r\n--" + boundary + "\r\n")
	out.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	out.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	out.WriteString(htmlBody)
	out.WriteString("\r\n--" + boundary + "--\r\n")
	return out.String()
}

func normalizeCRLF(s string) string {
	normalized := strings.ReplaceAll(s, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\n", "\r\n")
	return normalized
}

func bodyToHTML(body string) string {
	escaped := html.EscapeString(strings.ReplaceAll(body, "\r\n", "\n"))
	escaped = strings.ReplaceAll(escaped, "\n", "<br>\n")
	return `<html><body style="font-family: Calibri, Arial, sans-serif; font-size: 11pt; color: #1f1f1f; line-height: 1.35;">` + escaped + `</body></html>`
}
