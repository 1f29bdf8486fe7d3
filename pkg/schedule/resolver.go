package schedule

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMorningHour is the local hour-of-day used for "tomorrow morning"
// when no hour is configured.
const DefaultMorningHour = 9

// Resolver converts a caller-supplied timing preference into an absolute
// target delivery time. Resolution is a pure function of the preference, the
// supplied clock reading, and the recipient's timezone; the resolver itself
// carries only configuration and a logger.
type Resolver struct {
	morningHour int
	logger      zerolog.Logger
}

// NewResolver creates a resolver that schedules "tomorrow morning" at the
// given local hour-of-day (0-23).
func NewResolver(morningHour int, logger zerolog.Logger) *Resolver {
	if morningHour < 0 || morningHour > 23 {
		morningHour = DefaultMorningHour
	}
	return &Resolver{
		morningHour: morningHour,
		logger:      logger.With().Str("component", "timing_resolver").Logger(),
	}
}

var durationPattern = regexp.MustCompile(`^(\d+)\s*(minute|minutes|min|mins|hour|hours|hr|hrs|day|days)$`)

// Resolve returns the absolute target delivery time for the preference.
// Unrecognized preferences resolve to now with a warning; Resolve never
// fails and never returns a time before now.
func (r *Resolver) Resolve(preference string, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}

	pref := strings.ToLower(strings.TrimSpace(preference))
	switch {
	case pref == "" || pref == "as soon as possible" || pref == "now":
		return now
	case pref == "tomorrow morning":
		return r.nextMorning(now, loc)
	}

	if d, ok := parseDuration(pref); ok {
		return now.Add(d)
	}

	r.logger.Warn().
		Str("preference", preference).
		Msg("unrecognized timing preference, sending as soon as possible")
	return now
}

// nextMorning returns the next occurrence of the configured morning hour in
// the recipient's timezone, strictly after now. A request made at or past
// the morning hour rolls over to the following calendar day.
func (r *Resolver) nextMorning(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	morning := time.Date(local.Year(), local.Month(), local.Day(), r.morningHour, 0, 0, 0, loc)
	if !morning.After(local) {
		morning = morning.AddDate(0, 0, 1)
	}
	return morning
}

func parseDuration(pref string) (time.Duration, bool) {
	m := durationPattern.FindStringSubmatch(pref)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 0 {
		return 0, false
	}
	switch {
	case strings.HasPrefix(m[2], "min"):
		return time.Duration(n) * time.Minute, true
	case strings.HasPrefix(m[2], "h"):
		return time.Duration(n) * time.Hour, true
	case strings.HasPrefix(m[2], "day"):
		return time.Duration(n) * 24 * time.Hour, true
	}
	return 0, false
}
