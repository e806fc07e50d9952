package chat

import "time"

// timestampLayouts are the formats the server has been observed to use.
// Tried in order; the first match wins.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// DateGroup is one date bucket of a grouped feed: the display date and
// the messages on that date in their original relative order.
type DateGroup struct {
	Date     string
	Messages []Message
}

// GroupByDate partitions an ordered message sequence into per-date
// buckets. Buckets appear in the order their date was first seen, and
// messages keep their relative order inside each bucket. Messages with
// an unparseable timestamp are bucketed under the raw timestamp string.
func GroupByDate(messages []Message) []DateGroup {
	var groups []DateGroup
	index := make(map[string]int)

	for _, msg := range messages {
		date := dateKey(msg.Timestamp)
		i, ok := index[date]
		if !ok {
			i = len(groups)
			index[date] = i
			groups = append(groups, DateGroup{Date: date})
		}
		groups[i].Messages = append(groups[i].Messages, msg)
	}

	return groups
}

// FormatTime renders a message timestamp as a local hour:minute string
// for per-message display. Unparseable input is returned unchanged.
func FormatTime(timestamp string) string {
	t, err := parseTimestamp(timestamp)
	if err != nil {
		return timestamp
	}
	return t.Local().Format("15:04")
}

func dateKey(timestamp string) string {
	t, err := parseTimestamp(timestamp)
	if err != nil {
		return timestamp
	}
	return t.Local().Format("2006-01-02")
}

// parseTimestamp tries each known layout. Zone-less layouts are read
// as viewer-local time, matching how the feed is rendered.
func parseTimestamp(timestamp string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, timestamp, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
