package cron

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	everyMinutes = regexp.MustCompile(`^every (\d+) minutes?$`)
	everyHours   = regexp.MustCompile(`^every (\d+) hours?$`)
	periodAt     = regexp.MustCompile(`^(?:every )?(day|daily|weekday|weekend|week|weekly|month|monthly|year|yearly|annually|monday|tuesday|wednesday|thursday|friday|saturday|sunday)(?: at (.+))?$`)
	atOnly       = regexp.MustCompile(`^at (.+)$`)
	clockTime    = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

var weekdays = map[string]string{
	"sunday":    "0",
	"monday":    "1",
	"tuesday":   "2",
	"wednesday": "3",
	"thursday":  "4",
	"friday":    "5",
	"saturday":  "6",
}

// translate turns an English phrase such as "every day at midnight" into a
// five-field cron expression. ok is false when the phrase is not recognized;
// err is set when it is recognized but out of range.
//
// Matching ignores case and repeated spaces. The accepted phrases are:
//
//	every minute, every N minutes         N in 1-59
//	every hour, hourly, every N hours     N in 1-23
//	at TIME                               daily
//	[every] PERIOD [at TIME]              midnight when TIME is omitted
//
// PERIOD is day, daily, weekday, weekend, week, weekly, month, monthly,
// year, yearly, annually or a weekday name. Weeks start on Sunday, months
// on the 1st, years on January 1st. TIME is midnight, noon, midday, H, H:MM
// (24-hour) or H[:MM] am/pm.
func translate(phrase string) (expr string, ok bool, err error) {
	p := strings.Join(strings.Fields(strings.ToLower(phrase)), " ")

	switch p {
	case "every minute":
		return "* * * * *", true, nil
	case "every hour", "hourly":
		return "0 * * * *", true, nil
	}

	if m := everyMinutes.FindStringSubmatch(p); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 || n > 59 {
			return "", true, fmt.Errorf("minute interval %d out of range 1-59", n)
		}
		if n == 1 {
			return "* * * * *", true, nil
		}
		return fmt.Sprintf("*/%d * * * *", n), true, nil
	}

	if m := everyHours.FindStringSubmatch(p); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 || n > 23 {
			return "", true, fmt.Errorf("hour interval %d out of range 1-23", n)
		}
		if n == 1 {
			return "0 * * * *", true, nil
		}
		return fmt.Sprintf("0 */%d * * *", n), true, nil
	}

	if m := atOnly.FindStringSubmatch(p); m != nil {
		hour, minute, err := parseClock(m[1])
		if err != nil {
			return "", false, nil
		}
		return fmt.Sprintf("%d %d * * *", minute, hour), true, nil
	}

	m := periodAt.FindStringSubmatch(p)
	if m == nil {
		return "", false, nil
	}

	hour, minute := 0, 0
	if m[2] != "" {
		hour, minute, err = parseClock(m[2])
		if err != nil {
			return "", true, err
		}
	}

	dom, month, dow := "*", "*", "*"
	switch period := m[1]; period {
	case "day", "daily":
	case "weekday":
		dow = "1-5"
	case "weekend":
		dow = "0,6"
	case "week", "weekly":
		dow = "0"
	case "month", "monthly":
		dom = "1"
	case "year", "yearly", "annually":
		dom, month = "1", "1"
	default:
		dow = weekdays[period]
	}

	return fmt.Sprintf("%d %d %s %s %s", minute, hour, dom, month, dow), true, nil
}

// parseClock reads "midnight", "noon", "7", "7:30", "7pm", "7:30 am" and
// "19:30".
func parseClock(s string) (hour, minute int, err error) {
	switch s {
	case "midnight":
		return 0, 0, nil
	case "noon", "midday":
		return 12, 0, nil
	}

	m := clockTime.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("unrecognized time of day %q", s)
	}

	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if minute > 59 {
		return 0, 0, fmt.Errorf("minute %d out of range in %q", minute, s)
	}

	switch m[3] {
	case "am", "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, fmt.Errorf("hour %d out of range in %q", hour, s)
		}
		if hour == 12 {
			hour = 0
		}
		if m[3] == "pm" {
			hour += 12
		}
	default:
		if hour > 23 {
			return 0, 0, fmt.Errorf("hour %d out of range in %q", hour, s)
		}
	}
	return hour, minute, nil
}
