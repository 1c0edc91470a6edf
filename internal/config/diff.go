package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ScheduleChanged is set when the daily reset cron or its time zone
	// changed. The scheduler can be rebuilt without a restart.
	ScheduleChanged bool

	// RestartRequired lists the top-level sections that changed in ways that
	// only take effect after a restart (e.g. "voice", "store").
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ScheduleChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}
	if old.Daily != new.Daily {
		d.ScheduleChanged = true
	}

	if old.Log.Format != new.Log.Format {
		d.RestartRequired = append(d.RestartRequired, "log")
	}
	if !reflect.DeepEqual(old.Voice, new.Voice) {
		d.RestartRequired = append(d.RestartRequired, "voice")
	}
	if !reflect.DeepEqual(old.Chat, new.Chat) {
		d.RestartRequired = append(d.RestartRequired, "chat")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Observe != new.Observe {
		d.RestartRequired = append(d.RestartRequired, "observe")
	}
	return d
}
