package config

import "time"

// LoadMirrorLocation resolves the zone mirror timestamps are rendered in.
// An unknown zone name falls back to UTC instead of failing startup.
func LoadMirrorLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		GetLogger().WithField("zone", name).Warn("unknown MIRROR_TIMEZONE; using UTC: " + err.Error())
		return time.UTC
	}
	return loc
}
