package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Natural-language date resolution. ResolveDateRanges is a pure function of
// (expression, reference instant): no clock reads, no shared state.
//
// Three input shapes are recognized:
//   - comparison expressions ("august vs september 2024") -> one range per side
//   - relative expressions (today, yesterday, this/last/next week|month|quarter|year)
//   - absolute expressions (month name, "Q1 2024", bare year, ISO date, "March 5, 2024")
//
// Calendar periods are normalized to 00:00:00.000 of the first day through
// 23:59:59.999 of the last day. "today" and "yesterday" are 24-hour half-open
// windows starting at midnight.

var monthsByName = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sept": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

const monthAlternation = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec`

var (
	vsSeparatorRe = regexp.MustCompile(`\s+(?:vs\.?|versus|against)\s+`)
	compareToRe   = regexp.MustCompile(`compare\s+(.+?)\s+(?:to|with|and)\s+(.+)`)
	isoDateRe     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	quarterRe     = regexp.MustCompile(`\bq([1-4])(?:\s+(\d{4}))?\b`)
	monthDayRe    = regexp.MustCompile(`\b(` + monthAlternation + `)\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s+(\d{4}))?`)
	monthYearRe   = regexp.MustCompile(`\b(` + monthAlternation + `)\b(?:\s+(\d{4}))?`)
	bareYearRe    = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
)

// ResolveDateRanges parses a natural-language time expression (or a whole
// utterance containing one) into concrete ranges. Comparison expressions
// yield one range per side. Returns ok=false when no pattern matches.
func ResolveDateRanges(expression string, ref time.Time) ([]DateRange, bool) {
	s := strings.ToLower(strings.TrimSpace(expression))
	if s == "" {
		return nil, false
	}

	if left, right, found := splitComparison(s); found {
		// A year stated on either side applies to both ("august vs september 2024").
		sharedYear := 0
		if y := bareYearRe.FindString(s); y != "" {
			sharedYear, _ = strconv.Atoi(y)
		}
		lr, lok := resolveSingle(left, ref, sharedYear)
		rr, rok := resolveSingle(right, ref, sharedYear)
		if lok && rok {
			return []DateRange{lr, rr}, true
		}
	}

	r, ok := resolveSingle(s, ref, 0)
	if !ok {
		return nil, false
	}
	return []DateRange{r}, true
}

func splitComparison(s string) (string, string, bool) {
	if loc := vsSeparatorRe.FindStringIndex(s); loc != nil {
		left := strings.TrimSpace(s[:loc[0]])
		left = strings.TrimSpace(strings.TrimPrefix(left, "compare"))
		return left, strings.TrimSpace(s[loc[1]:]), true
	}
	if m := compareToRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
	}
	return "", "", false
}

func resolveSingle(s string, ref time.Time, defaultYear int) (DateRange, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, " ?.!,")
	for _, prefix := range []string{"in ", "for ", "during "} {
		s = strings.TrimPrefix(s, prefix)
	}
	if s == "" {
		return DateRange{}, false
	}

	if r, ok := resolveRelative(s, ref); ok {
		return r, true
	}

	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			start := time.Date(year, time.Month(month), day, 0, 0, 0, 0, ref.Location())
			return DateRange{Label: m[0], Start: start, End: endOfDay(start)}, true
		}
	}

	if m := quarterRe.FindStringSubmatch(s); m != nil {
		q, _ := strconv.Atoi(m[1])
		year := pickYear(m[2], defaultYear, ref)
		start := time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, ref.Location())
		return DateRange{
			Label: fmt.Sprintf("Q%d %d", q, year),
			Start: start,
			End:   endOfDay(start.AddDate(0, 3, -1)),
		}, true
	}

	if m := monthDayRe.FindStringSubmatch(s); m != nil {
		month := monthsByName[m[1]]
		day, _ := strconv.Atoi(m[2])
		year := pickYear(m[3], defaultYear, ref)
		if day >= 1 && day <= 31 {
			start := time.Date(year, month, day, 0, 0, 0, 0, ref.Location())
			return DateRange{
				Label: fmt.Sprintf("%s %d, %d", month.String(), day, year),
				Start: start,
				End:   endOfDay(start),
			}, true
		}
	}

	if m := monthYearRe.FindStringSubmatch(s); m != nil {
		month := monthsByName[m[1]]
		year := pickYear(m[2], defaultYear, ref)
		start := time.Date(year, month, 1, 0, 0, 0, 0, ref.Location())
		return DateRange{
			Label: fmt.Sprintf("%s %d", month.String(), year),
			Start: start,
			End:   endOfDay(start.AddDate(0, 1, -1)),
		}, true
	}

	if m := bareYearRe.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, ref.Location())
		return DateRange{
			Label: m[1],
			Start: start,
			End:   endOfDay(time.Date(year, time.December, 31, 0, 0, 0, 0, ref.Location())),
		}, true
	}

	return DateRange{}, false
}

func resolveRelative(s string, ref time.Time) (DateRange, bool) {
	day := midnight(ref)
	monday := mondayOf(ref)
	firstOfMonth := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
	firstOfYear := time.Date(ref.Year(), time.January, 1, 0, 0, 0, 0, ref.Location())
	qStart := quarterStart(ref)

	type candidate struct {
		phrase string
		r      DateRange
	}
	candidates := []candidate{
		{"yesterday", DateRange{Label: "yesterday", Start: day.AddDate(0, 0, -1), End: day}},
		{"today", DateRange{Label: "today", Start: day, End: day.AddDate(0, 0, 1)}},
		// "last week" is the trailing 7 days ending today inclusive, matching
		// the date arithmetic the extraction prompt instructs the model to use.
		{"last week", DateRange{Label: "last week", Start: day.AddDate(0, 0, -6), End: endOfDay(ref)}},
		{"this week", DateRange{Label: "this week", Start: monday, End: endOfDay(monday.AddDate(0, 0, 6))}},
		{"next week", DateRange{Label: "next week", Start: monday.AddDate(0, 0, 7), End: endOfDay(monday.AddDate(0, 0, 13))}},
		{"last 7 days", DateRange{Label: "last 7 days", Start: day.AddDate(0, 0, -6), End: endOfDay(ref)}},
		{"last 30 days", DateRange{Label: "last 30 days", Start: day.AddDate(0, 0, -29), End: endOfDay(ref)}},
		{"this month", monthRange("this month", firstOfMonth)},
		{"last month", monthRange("last month", firstOfMonth.AddDate(0, -1, 0))},
		{"next month", monthRange("next month", firstOfMonth.AddDate(0, 1, 0))},
		{"this quarter", quarterRange("this quarter", qStart)},
		{"last quarter", quarterRange("last quarter", qStart.AddDate(0, -3, 0))},
		{"next quarter", quarterRange("next quarter", qStart.AddDate(0, 3, 0))},
		{"this year", yearRange("this year", firstOfYear)},
		{"last year", yearRange("last year", firstOfYear.AddDate(-1, 0, 0))},
		{"next year", yearRange("next year", firstOfYear.AddDate(1, 0, 0))},
	}

	for _, c := range candidates {
		if strings.Contains(s, c.phrase) {
			return c.r, true
		}
	}
	return DateRange{}, false
}

func monthRange(label string, first time.Time) DateRange {
	return DateRange{Label: label, Start: first, End: endOfDay(first.AddDate(0, 1, -1))}
}

func quarterRange(label string, first time.Time) DateRange {
	return DateRange{Label: label, Start: first, End: endOfDay(first.AddDate(0, 3, -1))}
}

func yearRange(label string, first time.Time) DateRange {
	return DateRange{Label: label, Start: first, End: endOfDay(first.AddDate(1, 0, -1))}
}

func pickYear(matched string, defaultYear int, ref time.Time) int {
	if matched != "" {
		y, _ := strconv.Atoi(matched)
		return y
	}
	if defaultYear != 0 {
		return defaultYear
	}
	return ref.Year()
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), t.Location())
}

func mondayOf(t time.Time) time.Time {
	weekday := t.Weekday()
	if weekday == time.Sunday {
		weekday = 7
	}
	daysFromMonday := int(weekday) - int(time.Monday)
	return time.Date(t.Year(), t.Month(), t.Day()-daysFromMonday, 0, 0, 0, 0, t.Location())
}

func quarterStart(t time.Time) time.Time {
	qMonth := time.Month((int(t.Month())-1)/3*3 + 1)
	return time.Date(t.Year(), qMonth, 1, 0, 0, 0, 0, t.Location())
}
