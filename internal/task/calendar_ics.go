package task

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ticklist/internal/model"
)

const icsDateLayout = "20060102"

var errNoDueDate = errors.New("task due date required for calendar export")

// BuildTaskCalendarICS builds an all-day iCalendar event on the task's due date.
func BuildTaskCalendarICS(t model.Task, now time.Time) (string, error) {
	if t.DueDate == nil {
		return "", errNoDueDate
	}
	due := t.DueDate.UTC()
	start := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	title := strings.TrimSpace(t.Title)
	if title == "" {
		title = "Task"
	}

	uid := fmt.Sprintf("task-%s@ticklist", strings.TrimSpace(t.ID))
	if strings.TrimSpace(t.ID) == "" {
		uid = fmt.Sprintf("task-export-%d@ticklist", now.UnixNano())
	}

	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//ticklist//Task Export//EN",
		"CALSCALE:GREGORIAN",
		"METHOD:PUBLISH",
		"BEGIN:VEVENT",
		"UID:" + escapeICSText(uid),
		"DTSTAMP:" + now.UTC().Format("20060102T150405Z"),
		"SUMMARY:" + escapeICSText(title),
		"DTSTART;VALUE=DATE:" + start.Format(icsDateLayout),
		"DTEND;VALUE=DATE:" + end.Format(icsDateLayout),
	}
	if desc := strings.TrimSpace(t.Description); desc != "" {
		lines = append(lines, "DESCRIPTION:"+escapeICSText(desc))
	}
	if t.Category != "" || len(t.Tags) > 0 {
		cats := make([]string, 0, len(t.Tags)+1)
		if t.Category != "" {
			cats = append(cats, escapeICSText(t.Category))
		}
		for _, tag := range t.Tags {
			cats = append(cats, escapeICSText(tag))
		}
		lines = append(lines, "CATEGORIES:"+strings.Join(cats, ","))
	}
	if t.Completed {
		lines = append(lines, "STATUS:CONFIRMED")
	}
	lines = append(lines, "END:VEVENT", "END:VCALENDAR", "")

	return strings.Join(lines, "\r\n"), nil
}

func escapeICSText(s string) string {
	repl := strings.NewReplacer(
		"\\", "\\\\",
		";", "\\;",
		",", "\\,",
		"\r\n", "\\n",
		"\n", "\\n",
		"\r", "\\n",
	)
	return repl.Replace(s)
}
