// internal/loyalty/service.go
//
// Guest and staff workflows on top of the stores and engines.
//
// Context
// -------
// The bot and the ops API never touch the documents directly.  They call
// the Service, which keeps the two places a visit lives in step: the event
// log in admin_stats.json and the counter on the card.
//
//	ConfirmVisit:  validate → find card → self check → once-per-day event
//	               → card counter → discount
//
// Notes
// -----
//   • The once-per-day check and the event append are one locked mutation.
//     The card counter is bumped right after; a crash between the two
//     leaves the event without the counter, never the reverse.
//   • Discounts reported to staff include the monthly bonus.
package loyalty

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/loungebot/internal/acl"
	"github.com/yanizio/loungebot/internal/cards"
	"github.com/yanizio/loungebot/internal/events"
	"github.com/yanizio/loungebot/internal/identity"
	"github.com/yanizio/loungebot/internal/leaderboard"
	"github.com/yanizio/loungebot/internal/metrics"
	"github.com/yanizio/loungebot/internal/tier"
	"github.com/yanizio/loungebot/internal/timeutil"
)

var (
	ErrInvalidCardNumber   = errors.New("card number must be digits")
	ErrCardNotFound        = errors.New("card not found")
	ErrSelfVisit           = errors.New("staff cannot confirm their own visit")
	ErrAlreadyVisitedToday = errors.New("visit already confirmed this business day")
)

// Deps are the collaborators a Service drives.
type Deps struct {
	Events *events.Store
	Cards  *cards.Registry
	Roles  *acl.Store
	Board  *leaderboard.Engine
}

// Options configures a Service.
type Options struct {
	Source          string
	Zone            *time.Location
	BusinessDayHour int
	Tiers           tier.Table
	Now             func() time.Time
}

// Service is safe for concurrent use.
type Service struct {
	Deps
	opts Options
	log  *zap.Logger
}

// New builds a Service.
func New(d Deps, opts Options) *Service {
	if opts.Zone == nil {
		opts.Zone = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.Tiers) == 0 {
		opts.Tiers = tier.Default()
	}
	return &Service{Deps: d, opts: opts, log: zap.L().Named("loyalty")}
}

// Tiers is the active tier table.
func (s *Service) Tiers() tier.Table { return s.opts.Tiers }

/*──────────────────────────── registration ────────────────────────────────*/

// Seen records an inbound update: profile refresh and admin identity sync.
func (s *Service) Seen(u identity.User) error {
	if err := s.Events.Touch(u); err != nil {
		return fmt.Errorf("touch %d: %w", u.ID, err)
	}
	if err := s.Roles.SyncFromUser(u); err != nil {
		return fmt.Errorf("sync admin %d: %w", u.ID, err)
	}
	return nil
}

// Register issues the user's card on first call and keeps staff cards on
// their override label.
func (s *Service) Register(u identity.User) (cards.Card, error) {
	if err := s.Seen(u); err != nil {
		return cards.Card{}, err
	}
	card, err := s.Cards.EnsureCard(u)
	if err != nil {
		return cards.Card{}, fmt.Errorf("ensure card %d: %w", u.ID, err)
	}
	label, err := s.Roles.StaffLabel(u.ID, u.Username)
	if err != nil {
		return card, err
	}
	if label != "" && (!card.Staff || card.Level != label) {
		if card, err = s.Cards.SetStaffOverride(u, label, nil); err != nil {
			return card, fmt.Errorf("staff override %d: %w", u.ID, err)
		}
	}
	return card, nil
}

/*──────────────────────────── visits ──────────────────────────────────────*/

// VisitResult is what staff see after ConfirmVisit.  Discount includes the
// monthly bonus.  It is filled for ErrAlreadyVisitedToday as well.
type VisitResult struct {
	Card     cards.Card
	Discount int
	Bonus    int
}

func reject(reason string, err error) error {
	metrics.VisitsRejectedTotal.WithLabelValues(reason).Inc()
	return err
}

// ConfirmVisit credits one visit to the card typed in by adminID.
func (s *Service) ConfirmVisit(input string, adminID int64) (VisitResult, error) {
	number := strings.TrimSpace(input)
	if number == "" || strings.Trim(number, "0123456789") != "" {
		return VisitResult{}, reject("invalid", ErrInvalidCardNumber)
	}
	card, ok, err := s.Cards.FindByNumber(number)
	if err != nil {
		return VisitResult{}, err
	}
	if !ok {
		return VisitResult{}, reject("not_found", ErrCardNotFound)
	}
	if adminID != 0 && adminID == card.UserID {
		return VisitResult{Card: card}, reject("self", ErrSelfVisit)
	}

	start, end := timeutil.BusinessDay(s.opts.Now(), s.opts.Zone, s.opts.BusinessDayHour)
	recorded, err := s.Events.RecordVisitOncePerDay(card.UserID, adminID, s.opts.Source, start, end)
	if err != nil {
		return VisitResult{}, fmt.Errorf("record visit %s: %w", card.Number, err)
	}
	if !recorded {
		res := s.result(card)
		return res, reject("duplicate", ErrAlreadyVisitedToday)
	}

	updated, ok, err := s.Cards.AddVisits(card.UserID, 1)
	if err != nil {
		return VisitResult{}, fmt.Errorf("card counter %s: %w", card.Number, err)
	}
	if ok {
		card = updated
	}
	metrics.VisitsConfirmedTotal.Inc()
	s.log.Info("visit confirmed",
		zap.String("card", card.Number),
		zap.Int64("user", card.UserID),
		zap.Int64("admin", adminID),
		zap.Int("visits", card.Visits))
	return s.result(card), nil
}

func (s *Service) result(card cards.Card) VisitResult {
	total, bonus, _ := s.Board.TotalDiscount(card.UserID, card.Discount)
	return VisitResult{Card: card, Discount: total, Bonus: bonus}
}

/*──────────────────────────── guest card ──────────────────────────────────*/

// CardView is everything the guest card screen shows.
type CardView struct {
	Registered bool
	Card       cards.Card
	// Level is the card label, or the staff label when the viewer is staff.
	Level      string
	Staff      bool
	Superadmin bool
	Base       int
	Bonus      int
	Total      int
	Next       tier.Tier
	Remaining  int
	HasNext    bool
	Medals     string
}

// Card builds the guest card for u.  Unregistered users get a preview at
// the entry tier.
func (s *Service) Card(u identity.User) (CardView, error) {
	card, ok, err := s.Cards.FindByUserID(u.ID)
	if err != nil {
		return CardView{}, err
	}
	v := CardView{Registered: ok, Card: card, Superadmin: s.Roles.IsSuperadmin(u.ID)}

	if ok {
		v.Level, v.Base = card.Level, card.Discount
	} else {
		entry := s.opts.Tiers.ForVisits(0)
		v.Level, v.Base = entry.Display(), entry.Discount
	}

	username := u.Username
	if username == "" {
		username = card.Username
	}
	label, err := s.Roles.StaffLabel(u.ID, username)
	if err != nil {
		return CardView{}, err
	}
	if label != "" {
		v.Level, v.Staff = label, true
	}

	if v.Total, v.Bonus, err = s.Board.TotalDiscount(u.ID, v.Base); err != nil {
		return CardView{}, err
	}
	if v.Medals, err = s.Board.MedalsFor(u.ID); err != nil {
		return CardView{}, err
	}
	if !v.Staff && !card.Staff {
		v.Next, v.Remaining, v.HasNext = s.opts.Tiers.Above(card.Visits)
	}
	return v, nil
}

/*──────────────────────────── admin management ────────────────────────────*/

// Promote makes username an admin.  uid is 0 while the account is unknown.
func (s *Service) Promote(username string) (int64, error) { return s.Roles.Promote(username) }

// Demote removes username from the admins.
func (s *Service) Demote(username string) (int64, error) { return s.Roles.Demote(username) }

// AdminRow is one admin with the visits they confirmed.
type AdminRow struct {
	acl.Entry
	Marked events.AdminSummary
}

// Admins lists admins with their confirmation counts.
func (s *Service) Admins() ([]AdminRow, error) {
	list, err := s.Roles.List()
	if err != nil {
		return nil, err
	}
	out := make([]AdminRow, 0, len(list))
	for _, a := range list {
		row := AdminRow{Entry: a}
		if a.UserID != 0 {
			if row.Marked, err = s.Events.AdminMarkedSummary(a.UserID, s.opts.Source); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// AdminClients pages through the visits one admin confirmed.
func (s *Service) AdminClients(adminID int64, offset, limit int) ([]events.MarkedVisit, int, error) {
	return s.Events.AdminRecentClients(adminID, offset, limit)
}

/*──────────────────────────── dashboard ───────────────────────────────────*/

// Stats is the admin dashboard.
type Stats struct {
	Active       int                 `json:"active"`
	Subscribed   events.Counts       `json:"subscribed"`
	Unsubscribed events.Counts       `json:"unsubscribed"`
	Visits       events.Counts       `json:"visits"`
	Tiers        map[string]int      `json:"tiers"`
	TopClickers  []events.ClickRow   `json:"top_clickers"`
	TopAdmins    []events.AdminCount `json:"top_admins"`
}

// Stats gathers the dashboard numbers and refreshes the subscriber gauge.
func (s *Service) Stats() (Stats, error) {
	var (
		st  Stats
		err error
	)
	if st.Active, err = s.Events.ActiveSubscribersCount(); err != nil {
		return st, err
	}
	metrics.ActiveSubscribers.Set(float64(st.Active))
	if st.Subscribed, err = s.Events.SubscribedCounts(); err != nil {
		return st, err
	}
	if st.Unsubscribed, err = s.Events.UnsubscribedCounts(); err != nil {
		return st, err
	}
	if st.Visits, err = s.Events.VisitCounts(s.opts.Source); err != nil {
		return st, err
	}
	if st.Tiers, err = s.Cards.TierCounts(); err != nil {
		return st, err
	}
	if st.TopClickers, err = s.Events.TopByClicks(10); err != nil {
		return st, err
	}
	if st.TopAdmins, err = s.Events.TopAdminsByMarkedVisits(s.opts.Source, 30, 10); err != nil {
		return st, err
	}
	return st, nil
}
