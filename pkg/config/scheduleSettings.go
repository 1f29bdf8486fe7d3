package config

// ScheduleSettings holds configuration for the timing resolver.
type ScheduleSettings struct {
	// MorningHour is the local hour-of-day "tomorrow morning" resolves to.
	MorningHour int `mapstructure:"morning_hour" validate:"min=0,max=23"`
	// Timezone is the IANA zone applied when the caller supplies none.
	Timezone string `mapstructure:"timezone"`
}
