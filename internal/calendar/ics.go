package calendar

import (
	"regexp"
	"strings"
	"time"
)

// Markers the feed uses in event summaries. Only events carrying one of
// them count: rest days suspend work, make-up workdays reclassify a
// nominal weekend as working. Everything else (solar terms, plain
// festival names) is ignored.
const (
	restDayMarker   = "（休）"
	makeupDayMarker = "（班）"
)

// FeedEvent is one expanded calendar date from the holiday feed.
type FeedEvent struct {
	Date      string // YYYY-MM-DD
	Name      string
	IsHoliday bool // true = rest day, false = make-up workday
}

var (
	dtStartRe = regexp.MustCompile(`DTSTART[^:]*:(\d{8})`)
	dtEndRe   = regexp.MustCompile(`DTEND[^:]*:(\d{8})`)
	summaryRe = regexp.MustCompile(`SUMMARY[^:]*:(.+)`)
)

// ParseICS extracts marked holiday events from an ICS document,
// expanding multi-day spans into individual dates. DTEND is exclusive
// per the ICS convention, so a span 0101..0104 covers 01, 02 and 03.
func ParseICS(text string) []FeedEvent {
	var events []FeedEvent

	var inEvent bool
	var startDate, endDate, summary string

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		trimmed = strings.TrimSpace(trimmed)

		switch {
		case trimmed == "BEGIN:VEVENT":
			inEvent = true
			startDate, endDate, summary = "", "", ""
			continue
		case trimmed == "END:VEVENT":
			if inEvent && startDate != "" && summary != "" {
				events = append(events, expandEvent(startDate, endDate, summary)...)
			}
			inEvent = false
			continue
		}

		if !inEvent {
			continue
		}
		if m := dtStartRe.FindStringSubmatch(trimmed); m != nil {
			startDate = compactToISO(m[1])
		} else if m := dtEndRe.FindStringSubmatch(trimmed); m != nil {
			endDate = compactToISO(m[1])
		} else if m := summaryRe.FindStringSubmatch(trimmed); m != nil {
			summary = m[1]
		}
	}

	return events
}

func expandEvent(startDate, endDate, summary string) []FeedEvent {
	isRest := strings.Contains(summary, restDayMarker)
	isMakeup := strings.Contains(summary, makeupDayMarker)
	if !isRest && !isMakeup {
		return nil
	}

	if endDate == "" {
		return []FeedEvent{{Date: startDate, Name: summary, IsHoliday: isRest}}
	}

	start, err1 := time.Parse("2006-01-02", startDate)
	end, err2 := time.Parse("2006-01-02", endDate)
	if err1 != nil || err2 != nil {
		return nil
	}

	var events []FeedEvent
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		events = append(events, FeedEvent{
			Date:      d.Format("2006-01-02"),
			Name:      summary,
			IsHoliday: isRest,
		})
	}
	return events
}

func compactToISO(yyyymmdd string) string {
	return yyyymmdd[0:4] + "-" + yyyymmdd[4:6] + "-" + yyyymmdd[6:8]
}
