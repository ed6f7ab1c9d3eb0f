package cron

import (
	"fmt"
	"strconv"
	"strings"
)

var (
	weekdayNames = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
	monthNames   = []string{"", "January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"}
)

// Describe renders a best-effort English summary. Unrecognized shapes fall
// back to a generic description.
func Describe(expr string) string {
	f := strings.Fields(expr)
	if len(f) != 5 {
		return ""
	}
	minute, hour, dom, month, dow := f[0], f[1], f[2], f[3], f[4]
	anyDay := dom == "*" && month == "*" && dow == "*"

	if anyDay && hour == "*" {
		switch {
		case minute == "*":
			return "Every minute"
		case strings.HasPrefix(minute, "*/"):
			return "Every " + plural(strings.TrimPrefix(minute, "*/"), "minute")
		case isNum(minute):
			if minute == "0" {
				return "Every hour"
			}
			return "Every hour at minute " + minute
		}
	}
	if anyDay && isNum(minute) && strings.HasPrefix(hour, "*/") {
		return "Every " + plural(strings.TrimPrefix(hour, "*/"), "hour") + atMinute(minute)
	}

	if !isNum(minute) || !isNum(hour) {
		return "Custom schedule (" + strings.Join(f, " ") + ")"
	}
	at := " at " + clock(hour, minute)

	switch {
	case anyDay:
		return "Every day" + at
	case dom == "*" && month == "*":
		if days, ok := weekdays(dow); ok {
			return "Every " + days + at
		}
	case isNum(dom) && month == "*" && dow == "*":
		return "On day " + dom + " of every month" + at
	case isNum(dom) && isNum(month) && dow == "*":
		if m, _ := strconv.Atoi(month); m >= 1 && m <= 12 {
			return "Every year on " + monthNames[m] + " " + dom + at
		}
	}
	return "Custom schedule (" + strings.Join(f, " ") + ")"
}

func weekdays(dow string) (string, bool) {
	switch dow {
	case "1-5":
		return "weekday", true
	case "0,6", "6,0", "6,7", "6-7":
		return "weekend day", true
	}
	names := make([]string, 0, 7)
	for _, p := range strings.Split(dow, ",") {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 7 {
			return "", false
		}
		names = append(names, weekdayNames[n])
	}
	if len(names) == 1 {
		return names[0], true
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1], true
}

func atMinute(minute string) string {
	if minute == "0" {
		return ""
	}
	return " at minute " + minute
}

func clock(hour, minute string) string {
	h, _ := strconv.Atoi(hour)
	m, _ := strconv.Atoi(minute)
	return fmt.Sprintf("%02d:%02d", h, m)
}

func plural(n, unit string) string {
	if n == "1" {
		return unit
	}
	return n + " " + unit + "s"
}

func isNum(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}
