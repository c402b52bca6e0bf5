package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied to a running process; every other change is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections whose changes only take
	// effect on the next run.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	sections := []struct {
		name     string
		old, new any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"input", old.Input, new.Input},
		{"mel", old.Mel, new.Mel},
		{"detection", old.Detection, new.Detection},
		{"pipeline", old.Pipeline, new.Pipeline},
		{"recognizer", old.Recognizer, new.Recognizer},
		{"failover", old.Failover, new.Failover},
		{"debug", old.Debug, new.Debug},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
