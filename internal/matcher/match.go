package matcher

import (
	"strings"
	"time"
	"unicode"

	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cleaner"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/feed"
)

// timeToleranceMinutes bounds how far a check-in may sit from the slot
// start and still count as attendance for it.
const timeToleranceMinutes = 15

// recordTime picks the usable timestamp out of a check-in record. Devices
// report intime, some older ones only watertime.
func recordTime(rec feed.WaterRecord) string {
	if rec.Intime != "" {
		return rec.Intime
	}
	return rec.Watertime
}

// findMatch returns the first record attributable to the slot: timestamp
// within tolerance of the slot start and device location overlapping the
// classroom.
func findMatch(start time.Time, location string, records []feed.WaterRecord) (feed.WaterRecord, bool) {
	for _, rec := range records {
		if isMatch(start, location, rec) {
			return rec, true
		}
	}
	return feed.WaterRecord{}, false
}

func isMatch(start time.Time, location string, rec feed.WaterRecord) bool {
	ts := recordTime(rec)
	if ts == "" {
		return false
	}
	at, err := time.ParseInLocation(cleaner.KeyLayout, ts, time.Local)
	if err != nil {
		return false
	}
	diff := diffMinutes(at, start)
	if diff < 0 {
		diff = -diff
	}
	if diff > timeToleranceMinutes {
		return false
	}
	return locationMatches(location, rec.Eqno)
}

// locationMatches compares the classroom against the device name after
// stripping whitespace (NBSP included) and lowering case. Either side may
// contain the other: devices are often named "<room>-门禁". When the
// expected location is unknown, or the record has no device name, a
// timestamp inside tolerance is enough on its own.
func locationMatches(location, eqno string) bool {
	a := normalizeLocation(location)
	b := normalizeLocation(eqno)
	if a == "" || b == "" {
		return true
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func normalizeLocation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// diffMinutes is a truncated whole-minute difference, matching how the
// window and tolerance bounds are defined.
func diffMinutes(a, b time.Time) int64 {
	return int64(a.Sub(b) / time.Minute)
}
