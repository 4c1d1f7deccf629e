// internal/broadcast/dispatcher.go
//
// Broadcast delivery.
//
// Context
// -------
// A campaign copies one existing chat message to a list of users.  The
// target list usually comes from the segment engine, possibly minutes old,
// so the dispatcher checks again right before sending:
//
//   • staff are removed unconditionally;
//   • the cooldown is re-applied unless the kind is exempt.
//
// Each successful copy is recorded on the user, which is what later
// cooldown checks see.  A user that blocked the bot is marked unsubscribed.
//
// Instrumentation
// ---------------
// Delivered and failed sends are counted per kind in Prometheus.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/yanizio/loungebot/internal/acl"
	"github.com/yanizio/loungebot/internal/metrics"
)

// DefaultKind tags campaigns created without a kind.
const DefaultKind = "broadcast"

// ErrBlocked is returned by a Sender when the recipient blocked the bot.
var ErrBlocked = errors.New("recipient blocked the bot")

// Sender copies message messageID from chat fromChat to chatID.
type Sender interface {
	Copy(ctx context.Context, chatID, fromChat int64, messageID int) error
}

// Recorder is the event-store side of delivery.
type Recorder interface {
	FilterByCooldown(ids []int64, days int) ([]int64, error)
	RecordBroadcastSent(userID int64, kind, source, campaign string) error
	MarkUnsubscribed(userID int64) error
}

// StaffSource returns the ids that never receive broadcasts.
type StaffSource interface {
	StaffSet() (acl.Set, error)
}

// Options configures a Dispatcher.
type Options struct {
	Source       string
	CooldownDays int
	ExemptKinds  []string
	// Pace is the pause between two sends.
	Pace time.Duration
}

// Campaign is one send request.
type Campaign struct {
	Kind      string
	Targets   []int64
	FromChat  int64
	MessageID int
}

// Report summarizes a run.  Skipped counts targets removed by the staff or
// cooldown check.
type Report struct {
	Campaign string `json:"campaign"`
	Kind     string `json:"kind"`
	Sent     int    `json:"sent"`
	Failed   int    `json:"failed"`
	Blocked  int    `json:"blocked"`
	Skipped  int    `json:"skipped"`
}

// Dispatcher sends campaigns one recipient at a time.
type Dispatcher struct {
	send   Sender
	store  Recorder
	staff  StaffSource
	opts   Options
	exempt map[string]struct{}
	log    *zap.Logger
}

// New builds a Dispatcher.
func New(send Sender, store Recorder, staff StaffSource, opts Options) *Dispatcher {
	ex := make(map[string]struct{}, len(opts.ExemptKinds))
	for _, k := range opts.ExemptKinds {
		ex[k] = struct{}{}
	}
	return &Dispatcher{
		send:   send,
		store:  store,
		staff:  staff,
		opts:   opts,
		exempt: ex,
		log:    zap.L().Named("broadcast"),
	}
}

// Exempt reports whether kind skips the cooldown.
func (d *Dispatcher) Exempt(kind string) bool {
	_, ok := d.exempt[kind]
	return ok
}

// Send delivers c.  It stops early when ctx is cancelled and returns the
// partial report with ctx.Err().
func (d *Dispatcher) Send(ctx context.Context, c Campaign) (Report, error) {
	if c.Kind == "" {
		c.Kind = DefaultKind
	}
	id, err := gonanoid.New()
	if err != nil {
		return Report{}, fmt.Errorf("campaign id: %w", err)
	}
	rep := Report{Campaign: id, Kind: c.Kind}

	targets, err := d.screen(c)
	if err != nil {
		return rep, err
	}
	rep.Skipped = len(c.Targets) - len(targets)

	log := d.log.With(zap.String("campaign", id), zap.String("kind", c.Kind))
	log.Info("broadcast started", zap.Int("targets", len(targets)), zap.Int("skipped", rep.Skipped))

	for i, uid := range targets {
		if err := ctx.Err(); err != nil {
			log.Warn("broadcast cancelled", zap.Int("remaining", len(targets)-i))
			return rep, err
		}
		d.deliver(ctx, log, &rep, c, uid)

		if d.opts.Pace > 0 && i < len(targets)-1 {
			t := time.NewTimer(d.opts.Pace)
			select {
			case <-ctx.Done():
				t.Stop()
				log.Warn("broadcast cancelled", zap.Int("remaining", len(targets)-i-1))
				return rep, ctx.Err()
			case <-t.C:
			}
		}
	}
	log.Info("broadcast finished",
		zap.Int("sent", rep.Sent), zap.Int("failed", rep.Failed), zap.Int("blocked", rep.Blocked))
	return rep, nil
}

// screen drops staff and, for non-exempt kinds, users still cooling down.
// Duplicates are removed, order is kept.
func (d *Dispatcher) screen(c Campaign) ([]int64, error) {
	staff, err := d.staff.StaffSet()
	if err != nil {
		return nil, fmt.Errorf("broadcast staff: %w", err)
	}
	seen := make(map[int64]struct{}, len(c.Targets))
	out := make([]int64, 0, len(c.Targets))
	for _, id := range c.Targets {
		if _, dup := seen[id]; dup || staff.Has(id) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if d.Exempt(c.Kind) {
		return out, nil
	}
	out, err = d.store.FilterByCooldown(out, d.opts.CooldownDays)
	if err != nil {
		return nil, fmt.Errorf("broadcast cooldown: %w", err)
	}
	return out, nil
}

func (d *Dispatcher) deliver(ctx context.Context, log *zap.Logger, rep *Report, c Campaign, uid int64) {
	err := d.send.Copy(ctx, uid, c.FromChat, c.MessageID)
	if err != nil {
		rep.Failed++
		metrics.BroadcastFailedTotal.WithLabelValues(c.Kind).Inc()
		if errors.Is(err, ErrBlocked) {
			rep.Blocked++
			if uerr := d.store.MarkUnsubscribed(uid); uerr != nil {
				log.Error("mark unsubscribed", zap.Int64("user", uid), zap.Error(uerr))
			}
			return
		}
		log.Warn("broadcast send failed", zap.Int64("user", uid), zap.Error(err))
		return
	}

	rep.Sent++
	metrics.BroadcastDeliveredTotal.WithLabelValues(c.Kind).Inc()
	if err := d.store.RecordBroadcastSent(uid, c.Kind, d.opts.Source, rep.Campaign); err != nil {
		log.Error("record broadcast", zap.Int64("user", uid), zap.Error(err))
	}
}
