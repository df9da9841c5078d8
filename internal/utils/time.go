package utils

import "time"

func NowUTC() time.Time {
	return time.Now().UTC()
}

// Millis is the timestamp format stored in the document store.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
