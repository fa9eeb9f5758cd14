package feed

import "time"

// CompactThreshold is the largest gap (exclusive) between two consecutive
// messages by the same author for the second to render without a header.
const CompactThreshold = 5 * time.Minute

const dateKeyLayout = "2006-01-02"

// Entry is a message positioned inside a bucket.
type Entry struct {
	Message Message
	Compact bool
}

// Bucket holds one calendar day of messages, oldest first.
type Bucket struct {
	DateKey string
	Entries []Entry
}

// DateKey returns the local calendar day of t as YYYY-MM-DD.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(dateKeyLayout)
}

// Group buckets a newest-first page by local calendar day. Buckets come back
// newest date first; entries within a bucket are oldest first. Compaction is
// evaluated on adjacency inside a bucket only, so the first message of a day
// is never compact even when it follows the previous day's last message by
// seconds.
func Group(messages []Message, loc *time.Location) []Bucket {
	if len(messages) == 0 {
		return []Bucket{}
	}

	order := make([]string, 0)
	byKey := make(map[string][]Message)
	for _, message := range messages {
		key := DateKey(message.CreatedAt, loc)
		existing, ok := byKey[key]
		if !ok {
			order = append(order, key)
		}
		// Input is newest-first, so prepending yields oldest-first per day.
		byKey[key] = append([]Message{message}, existing...)
	}

	buckets := make([]Bucket, 0, len(order))
	for _, key := range order {
		items := byKey[key]
		entries := make([]Entry, len(items))
		for i, message := range items {
			entries[i] = Entry{Message: message}
			if i > 0 {
				entries[i].Compact = isCompact(items[i-1], message)
			}
		}
		buckets = append(buckets, Bucket{DateKey: key, Entries: entries})
	}
	return buckets
}

func isCompact(previous, current Message) bool {
	if previous.Author.MemberID != current.Author.MemberID {
		return false
	}
	return current.CreatedAt.Sub(previous.CreatedAt) < CompactThreshold
}

// Flatten returns every message in chronological order: buckets from the
// oldest date to the newest, entries oldest first within each.
func Flatten(buckets []Bucket) []Message {
	out := make([]Message, 0)
	for i := len(buckets) - 1; i >= 0; i-- {
		for _, entry := range buckets[i].Entries {
			out = append(out, entry.Message)
		}
	}
	return out
}
