package feed

import "time"

// DateLabel renders a bucket header. It is evaluated against now on every
// render, so a long-open view flips "Today" to "Yesterday" after midnight.
func DateLabel(dateKey string, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation(dateKeyLayout, dateKey, loc)
	if err != nil {
		return dateKey
	}
	today := DateKey(now, loc)
	if dateKey == today {
		return "Today"
	}
	local := now.In(loc)
	yesterday := time.Date(local.Year(), local.Month(), local.Day()-1, 0, 0, 0, 0, loc)
	if dateKey == yesterday.Format(dateKeyLayout) {
		return "Yesterday"
	}
	return day.Format("Monday, January 2")
}

// FullTimeLabel is the hover text for a message timestamp.
func FullTimeLabel(t, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return DateLabel(DateKey(t, loc), now, loc) + " at " + t.In(loc).Format("3:04:05 PM")
}

// HeaderTime is the timestamp printed next to the author name.
func HeaderTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("3:04 PM")
}

// CompactTime is the gutter timestamp of a compact message.
func CompactTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("15:04")
}
