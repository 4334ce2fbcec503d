package cachestore

import (
	"encoding/json"
	"strings"
	"time"
)

const expiresLayout = "2006-01-02"

// WeeklyStatus is the derived validity of the weekly cache. It is recomputed
// from the cache file and the current date on every call, never persisted.
type WeeklyStatus struct {
	Exists       bool
	IsExpired    bool
	ExpiresDate  string
	Size         int64
	LastModified time.Time
}

// WeeklyStatus inspects weekly.json and its embedded expires field.
// IsExpired is true whenever the file is absent, the expires field is
// missing or unparseable, or today (date-only) is past the expires date.
func (s *Store) WeeklyStatus(now time.Time) WeeklyStatus {
	st := WeeklyStatus{IsExpired: true}

	info, ok := s.FileInfo(WeeklyKey)
	if !ok {
		return st
	}
	st.Exists = true
	st.Size = info.Size
	st.LastModified = info.LastModified

	content, ok := s.Read(WeeklyKey)
	if !ok {
		return st
	}
	var payload struct {
		Expires string `json:"expires"`
	}
	if err := json.Unmarshal(content, &payload); err != nil {
		s.log.Warn().Err(err).Msg("weekly cache is not valid JSON, treating as expired")
		return st
	}
	st.ExpiresDate = strings.TrimSpace(payload.Expires)
	if st.ExpiresDate == "" {
		return st
	}
	expires, err := time.ParseInLocation(expiresLayout, st.ExpiresDate, now.Location())
	if err != nil {
		s.log.Warn().Err(err).Str("expires", st.ExpiresDate).Msg("unparseable expires date")
		return st
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	st.IsExpired = today.After(expires)
	return st
}
