package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Campaign is an outbound calling campaign. Locked campaigns with Autostart
// set have their Active flag driven by the start and end window.
type Campaign struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Active    bool      `json:"active"`
	Locked    bool      `json:"campaign_lock"`
	Autostart bool      `json:"autostart"`
}

// CampaignStatus derives the active flag a campaign should have at now.
// A campaign is active inside [start, end), inactive from end on, and has no
// known status before start or when either bound is missing.
func CampaignStatus(now, start, end time.Time) (active bool, known bool) {
	if start.IsZero() || end.IsZero() {
		return false, false
	}
	switch {
	case !now.Before(start) && now.Before(end):
		return true, true
	case !now.Before(end):
		return false, true
	default:
		return false, false
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the timestamp shapes produced by Postgres and Hasura.
// Values without an offset are taken as UTC. An empty string is the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("model: unrecognised timestamp %q", s)
}
