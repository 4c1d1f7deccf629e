// internal/events/model.go
//
// Stored shapes of the user-events document (`admin_stats.json`).
//
// Context
// -------
// The document has grown over several bot versions.  Records are decoded
// leniently:
//
//   • a visit event may be a bare timestamp string (oldest format) or an
//     object {ts, by, src};
//   • `by` may be a number or a numeric string;
//   • a user record that does not decode at all is kept verbatim by
//     filestore.Records and written back untouched.
//
// Timestamps stay strings here.  They are parsed at query time, and a value
// that does not parse is skipped by that query only.
package events

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/yanizio/loungebot/internal/filestore"
	"github.com/yanizio/loungebot/internal/metrics"
)

// VisitEvent is one confirmed visit.
type VisitEvent struct {
	TS  string `json:"ts"`
	By  int64  `json:"by,omitempty"`
	Src string `json:"src,omitempty"`

	raw json.RawMessage // set when the stored value had no usable shape
}

// UnmarshalJSON accepts a bare string or an object.  It never fails; values
// of any other shape are preserved as-is and ignored by queries.
func (e *VisitEvent) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			*e = VisitEvent{TS: s}
			return nil
		}
	case len(b) > 0 && b[0] == '{':
		var obj struct {
			TS  string          `json:"ts"`
			By  json.RawMessage `json:"by"`
			Src string          `json:"src"`
		}
		if err := json.Unmarshal(b, &obj); err == nil {
			*e = VisitEvent{TS: obj.TS, By: flexID(obj.By), Src: obj.Src}
			return nil
		}
	}
	metrics.MalformedRecordsTotal.Inc()
	*e = VisitEvent{raw: append(json.RawMessage(nil), b...)}
	return nil
}

// MarshalJSON writes preserved raw values back unchanged.
func (e VisitEvent) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	type plain VisitEvent
	return json.Marshal(plain(e))
}

func (e VisitEvent) valid() bool { return e.raw == nil && e.TS != "" }

// flexID reads an id stored as a number or a numeric string.  Anything else
// is 0, which queries treat as "no attribution".
func flexID(raw json.RawMessage) int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		return int64(f)
	}
	return 0
}

// BroadcastEvent is one delivered broadcast.  Campaign links deliveries of
// the same run.
type BroadcastEvent struct {
	TS       string `json:"ts"`
	Kind     string `json:"kind"`
	Src      string `json:"src,omitempty"`
	Campaign string `json:"campaign,omitempty"`
}

// UserRecord is everything the bot knows about one Telegram user.
type UserRecord struct {
	FirstName       string           `json:"first_name,omitempty"`
	LastName        string           `json:"last_name,omitempty"`
	Username        string           `json:"username,omitempty"`
	JoinedAt        string           `json:"joined_at"`
	LastSeen        string           `json:"last_seen"`
	UnsubscribedAt  string           `json:"unsubscribed_at,omitempty"`
	Clicks          int              `json:"clicks"`
	Visits          int              `json:"visits"`
	VisitEvents     []VisitEvent     `json:"visit_events"`
	BroadcastEvents []BroadcastEvent `json:"broadcast_events,omitempty"`
	LastClickAt     string           `json:"last_click_at,omitempty"`
}

// Active reports whether the user has not blocked the bot.
func (r *UserRecord) Active() bool { return r.UnsubscribedAt == "" }

// clone deep-copies the slices so callers can't reach into a snapshot.
func (r *UserRecord) clone() UserRecord {
	c := *r
	c.VisitEvents = append([]VisitEvent(nil), r.VisitEvents...)
	c.BroadcastEvents = append([]BroadcastEvent(nil), r.BroadcastEvents...)
	return c
}

// Document is the root of admin_stats.json.
type Document struct {
	Users filestore.Records[UserRecord] `json:"users"`
}

// normalizer upgrades legacy shapes after each load.
func normalizer(legacySource string) func(*Document) {
	return func(d *Document) {
		if d.Users.Items == nil {
			d.Users = filestore.NewRecords[UserRecord]()
		}
		for _, rec := range d.Users.Items {
			if rec.VisitEvents == nil {
				rec.VisitEvents = []VisitEvent{}
			}
			for i := range rec.VisitEvents {
				ev := &rec.VisitEvents[i]
				if ev.raw == nil && ev.Src == "" {
					ev.Src = legacySource
				}
			}
			for i := range rec.BroadcastEvents {
				if rec.BroadcastEvents[i].Src == "" {
					rec.BroadcastEvents[i].Src = legacySource
				}
			}
		}
	}
}
