package dashboard

import "strings"

// cronByLag is the exact freshness-to-cron fallback table. target_lag is a
// closed enum; anything outside it fails validation rather than rounding.
var cronByLag = map[string]string{
	"15 minutes": "*/15 * * * *",
	"30 minutes": "*/30 * * * *",
	"1 hour":     "0 * * * *",
	"2 hours":    "0 */2 * * *",
	"4 hours":    "0 */4 * * *",
	"6 hours":    "0 */6 * * *",
	"12 hours":   "0 */12 * * *",
	"1 day":      "0 12 * * *",
}

// CronFor maps a freshness target lag onto its UTC cron expression.
func CronFor(targetLag string) (string, bool) {
	cron, ok := cronByLag[strings.ToLower(strings.TrimSpace(targetLag))]
	return cron, ok
}

// FallbackToExact converts a freshness schedule to the equivalent exact
// schedule. Schedules already in exact mode pass through unchanged.
func FallbackToExact(s Schedule) (Schedule, bool) {
	if !strings.EqualFold(s.Mode, ModeFreshness) {
		return s, false
	}
	cron, ok := CronFor(s.TargetLag)
	if !ok {
		return s, false
	}
	return Schedule{Mode: ModeExact, CronUTC: cron}, true
}
