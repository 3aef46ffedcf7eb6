package slippage

import (
	"time"
)

var nyLocation = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// timeBucket is one fixed 30-minute intraday window, labeled "HH:MM-HH:MM".
type timeBucket struct {
	startMinute int // minutes since midnight ET
	endMinute   int
	label       string
}

const (
	marketOpenMinute  = 9*60 + 30
	marketCloseMinute = 16 * 60
)

var buckets = buildBuckets()

func buildBuckets() []timeBucket {
	bs := make([]timeBucket, 0, 13)
	for start := marketOpenMinute; start < marketCloseMinute; start += 30 {
		end := start + 30
		bs = append(bs, timeBucket{
			startMinute: start,
			endMinute:   end,
			label:       formatMinute(start) + "-" + formatMinute(end),
		})
	}
	return bs
}

func formatMinute(m int) string {
	h, mm := m/60, m%60
	const digits = "0123456789"
	pad := func(n int) string {
		return string([]byte{digits[n/10], digits[n%10]})
	}
	return pad(h) + ":" + pad(mm)
}

// ClassifyTimeBucket labels a fill timestamp (ISO-8601 UTC) with the
// 30-minute ET intraday window it falls in, or "pre-market"/"after-hours"
// outside regular session hours — classify_time_bucket.
func ClassifyTimeBucket(fillTsUTC string) string {
	t, err := time.Parse(time.RFC3339, fillTsUTC)
	if err != nil {
		return "after-hours"
	}
	ny := t.In(nyLocation)
	minuteOfDay := ny.Hour()*60 + ny.Minute()

	if minuteOfDay < marketOpenMinute {
		return "pre-market"
	}
	if minuteOfDay >= marketCloseMinute {
		return "after-hours"
	}
	for _, b := range buckets {
		if minuteOfDay >= b.startMinute && minuteOfDay < b.endMinute {
			return b.label
		}
	}
	return "after-hours"
}
