// internal/events/store.go
//
// Event Store: per-user activity log backed by admin_stats.json.
//
// Context
// -------
// Every write goes through filestore.Document.Update, which reloads the file,
// applies the change, and atomically replaces it while holding the shared
// process lock.  New timestamps are written in UTC.
//
// Instrumentation
// ---------------
//   • DEBUG – each mutation with user id.
//   • Store failures surface as wrapped errors; filestore counts them.
package events

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/loungebot/internal/filestore"
	"github.com/yanizio/loungebot/internal/identity"
	"github.com/yanizio/loungebot/internal/timeutil"
)

// DocumentName labels the events file in metrics and logs.
const DocumentName = "admin_stats"

// Options tune a Store.
type Options struct {
	// LegacySource is assigned to stored events that carry no source.
	LegacySource string
	// Zone interprets offset-less timestamps and defines "today".
	// Defaults to time.Local.
	Zone *time.Location
	// CooldownExempt lists broadcast kinds that never start a cooldown.
	CooldownExempt []string
	// Now is the clock.  Defaults to time.Now.
	Now func() time.Time
}

// Store is safe for concurrent use.
type Store struct {
	doc  *filestore.Document[Document]
	opts Options
	log  *zap.Logger
}

// Open binds a Store to path.  lock is shared with the other documents.
func Open(path string, lock *filestore.Lock, opts Options) *Store {
	if opts.Zone == nil {
		opts.Zone = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LegacySource == "" {
		opts.LegacySource = "lounge"
	}
	return &Store{
		doc: filestore.Open(path, filestore.Options[Document]{
			Name:      DocumentName,
			Lock:      lock,
			Empty:     func() *Document { return &Document{Users: filestore.NewRecords[UserRecord]()} },
			Normalize: normalizer(opts.LegacySource),
		}),
		opts: opts,
		log:  zap.L().Named("events"),
	}
}

func key(userID int64) string { return strconv.FormatInt(userID, 10) }

func (s *Store) stamp() string { return timeutil.Format(s.opts.Now()) }

func newRecord(now string) *UserRecord {
	return &UserRecord{
		JoinedAt:    now,
		LastSeen:    now,
		VisitEvents: []VisitEvent{},
	}
}

/*──────────────────────────── mutations ───────────────────────────────────*/

// skipMalformed reports whether the user's stored entry failed to decode.
// Such entries are left untouched.
func (s *Store) skipMalformed(d *Document, userID int64, op string) bool {
	if !d.Users.Malformed(key(userID)) {
		return false
	}
	malformed(s.log, "user record", zap.Int64("user", userID), zap.String("op", op))
	return true
}

// Touch creates the record on first contact, or refreshes profile fields and
// last_seen.  A returning user is treated as subscribed again.  A malformed
// stored record is left as is.
func (s *Store) Touch(u identity.User) error {
	return s.doc.Update(func(d *Document) error {
		if s.skipMalformed(d, u.ID, "touch") {
			return filestore.ErrSkipWrite
		}
		now := s.stamp()
		rec, ok := d.Users.Items[key(u.ID)]
		if !ok {
			rec = newRecord(now)
			d.Users.Items[key(u.ID)] = rec
		}
		rec.FirstName = u.FirstName
		rec.LastName = u.LastName
		rec.Username = u.Username
		rec.LastSeen = now
		rec.UnsubscribedAt = ""
		s.log.Debug("touch", zap.Int64("user", u.ID), zap.Bool("new", !ok))
		return nil
	})
}

// RecordClick bumps the click counter, creating the record if needed.
func (s *Store) RecordClick(userID int64) error {
	return s.doc.Update(func(d *Document) error {
		if s.skipMalformed(d, userID, "click") {
			return filestore.ErrSkipWrite
		}
		now := s.stamp()
		rec, ok := d.Users.Items[key(userID)]
		if !ok {
			rec = newRecord(now)
			d.Users.Items[key(userID)] = rec
		}
		rec.Clicks++
		rec.LastSeen = now
		rec.LastClickAt = now
		return nil
	})
}

// MarkUnsubscribed records that the user blocked the bot.  Unknown users are
// ignored.
func (s *Store) MarkUnsubscribed(userID int64) error {
	return s.doc.Update(func(d *Document) error {
		rec, ok := d.Users.Items[key(userID)]
		if !ok {
			return filestore.ErrSkipWrite
		}
		rec.UnsubscribedAt = s.stamp()
		s.log.Debug("unsubscribed", zap.Int64("user", userID))
		return nil
	})
}

// RecordVisit appends a visit event attributed to adminID and bumps the
// legacy counter.  It fails with filestore.ErrMalformedRecord when the
// user's stored record cannot be decoded.
func (s *Store) RecordVisit(userID, adminID int64, source string) error {
	return s.doc.Update(func(d *Document) error {
		return s.appendVisit(d, userID, adminID, source)
	})
}

// RecordVisitOncePerDay appends a visit unless the user already has one from
// source inside [start, end).  Offset-less stored stamps are read in
// start's location.  The check and the append happen in one locked
// mutation.  recorded is false when the visit was refused.
func (s *Store) RecordVisitOncePerDay(userID, adminID int64, source string, start, end time.Time) (recorded bool, err error) {
	err = s.doc.Update(func(d *Document) error {
		if rec, ok := d.Users.Items[key(userID)]; ok && s.hasVisitIn(rec, source, start, end) {
			return filestore.ErrSkipWrite
		}
		if err := s.appendVisit(d, userID, adminID, source); err != nil {
			return err
		}
		recorded = true
		return nil
	})
	return recorded, err
}

func (s *Store) appendVisit(d *Document, userID, adminID int64, source string) error {
	if s.skipMalformed(d, userID, "visit") {
		return fmt.Errorf("user %d: %w", userID, filestore.ErrMalformedRecord)
	}
	now := s.stamp()
	rec, ok := d.Users.Items[key(userID)]
	if !ok {
		rec = newRecord(now)
		d.Users.Items[key(userID)] = rec
	}
	rec.Visits++
	rec.VisitEvents = append(rec.VisitEvents, VisitEvent{TS: now, By: adminID, Src: source})
	s.log.Debug("visit recorded",
		zap.Int64("user", userID), zap.Int64("admin", adminID), zap.String("src", source))
	return nil
}

// RecordBroadcastSent logs a delivered broadcast.  Unknown users are
// ignored; broadcasts only target existing records.
func (s *Store) RecordBroadcastSent(userID int64, kind, source, campaign string) error {
	return s.doc.Update(func(d *Document) error {
		rec, ok := d.Users.Items[key(userID)]
		if !ok {
			return filestore.ErrSkipWrite
		}
		rec.BroadcastEvents = append(rec.BroadcastEvents, BroadcastEvent{
			TS:       s.stamp(),
			Kind:     kind,
			Src:      source,
			Campaign: campaign,
		})
		return nil
	})
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func (s *Store) parse(raw string) (time.Time, bool) {
	return s.parseIn(raw, s.opts.Zone)
}

// parseIn reads raw, placing offset-less values in loc.
func (s *Store) parseIn(raw string, loc *time.Location) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	t, err := timeutil.Parse(raw, loc)
	if err != nil {
		malformed(s.log, "timestamp", zap.String("value", raw))
		return time.Time{}, false
	}
	return t, true
}

func (s *Store) hasVisitIn(rec *UserRecord, source string, start, end time.Time) bool {
	for _, ev := range rec.VisitEvents {
		if !ev.valid() || (source != "" && ev.Src != source) {
			continue
		}
		ts, ok := s.parseIn(ev.TS, start.Location())
		if !ok {
			continue
		}
		if !ts.Before(start) && ts.Before(end) {
			return true
		}
	}
	return false
}
