// internal/cards/registry.go
//
// Card Registry backed by level_cards.json.
//
// Context
// -------
// Each user owns at most one card.  A card's level and discount are derived
// from its visit counter through the tier table, except for staff cards,
// which carry a fixed label and discount and ignore visits.  Every mutation
// recomputes the derived fields before saving, so a stored card is always
// consistent with its counter.
//
// Notes
// -----
//   • Card numbers are never reused; records are never deleted.
//   • The visit counter never decreases.
package cards

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/yanizio/loungebot/internal/filestore"
	"github.com/yanizio/loungebot/internal/identity"
	"github.com/yanizio/loungebot/internal/metrics"
	"github.com/yanizio/loungebot/internal/tier"
)

// DocumentName labels the cards file in metrics and logs.
const DocumentName = "level_cards"

// Options tune a Registry.
type Options struct {
	Tiers tier.Table
	// StaffLabel and StaffDiscount apply to staff cards without their own
	// override values.
	StaffLabel    string
	StaffDiscount int
}

// Registry is safe for concurrent use.
type Registry struct {
	doc  *filestore.Document[Document]
	opts Options
	log  *zap.Logger
}

// Open binds a Registry to path.
func Open(path string, lock *filestore.Lock, opts Options) *Registry {
	if len(opts.Tiers) == 0 {
		opts.Tiers = tier.Default()
	}
	if opts.StaffLabel == "" {
		opts.StaffLabel = "ADMIN🐧"
	}
	if opts.StaffDiscount == 0 {
		opts.StaffDiscount = 10
	}
	return &Registry{
		doc: filestore.Open(path, filestore.Options[Document]{
			Name:      DocumentName,
			Lock:      lock,
			Empty:     emptyDocument,
			Normalize: normalize,
		}),
		opts: opts,
		log:  zap.L().Named("cards"),
	}
}

func userKey(id int64) string { return strconv.FormatInt(id, 10) }

// NormalizeNumber trims input and zero-pads short numeric values, so "42"
// and "0042" name the same card.
func NormalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && len(s) < 4 {
		return formatNumber(n)
	}
	return s
}

// recalc derives level and discount.
func (r *Registry) recalc(rec *record) {
	if rec.StaffGold {
		rec.Level = r.opts.StaffLabel
		if rec.StaffLevel != nil && strings.TrimSpace(*rec.StaffLevel) != "" {
			rec.Level = strings.TrimSpace(*rec.StaffLevel)
		}
		rec.Discount = r.opts.StaffDiscount
		if rec.StaffDiscount != nil {
			rec.Discount = *rec.StaffDiscount
		}
		return
	}
	t := r.opts.Tiers.ForVisits(rec.Visits)
	rec.Level = t.Display()
	rec.Discount = t.Discount
}

// lookup finds the record owned by userID inside d.  A user whose by_user
// entry points at a missing card gets that number back with a nil record.
// A user whose ref or card failed to decode yields ErrMalformedRecord.
func lookup(d *Document, userID int64) (string, *record, error) {
	k := userKey(userID)
	ref, ok := d.ByUser.Items[k]
	if !ok || ref == nil {
		if d.ByUser.Has(k) {
			return "", nil, fmt.Errorf("card ref of user %d: %w", userID, filestore.ErrMalformedRecord)
		}
		return "", nil, nil
	}
	num := string(*ref)
	if d.ByNumber.Malformed(num) {
		return "", nil, fmt.Errorf("card %s of user %d: %w", num, userID, filestore.ErrMalformedRecord)
	}
	return num, d.ByNumber.Items[num], nil
}

func refreshProfile(rec *record, u identity.User) {
	if u.Username != "" {
		rec.Username = u.Username
	}
	if u.FirstName != "" {
		rec.FirstName = u.FirstName
	}
	if u.LastName != "" {
		rec.LastName = u.LastName
	}
}

// ensure returns the user's card inside d, allocating one if needed.  A
// user who already has a number keeps it, even when its record is missing.
func (r *Registry) ensure(d *Document, u identity.User) (string, *record, error) {
	num, rec, err := lookup(d, u.ID)
	if err != nil {
		r.log.Error("card record unreadable", zap.Int64("user", u.ID), zap.Error(err))
		return "", nil, err
	}
	if rec != nil {
		refreshProfile(rec, u)
		r.recalc(rec)
		return num, rec, nil
	}

	if num == "" {
		if num, err = allocate(d.ByNumber.Has); err != nil {
			r.log.Error("card allocation failed", zap.Int64("user", u.ID), zap.Error(err))
			return "", nil, err
		}
		metrics.CardsAllocatedTotal.Inc()
		r.log.Info("card issued", zap.Int64("user", u.ID), zap.String("number", num))
	} else {
		r.log.Warn("card record missing, restoring", zap.Int64("user", u.ID), zap.String("number", num))
	}
	rec = &record{UserID: u.ID}
	refreshProfile(rec, u)
	r.recalc(rec)

	ref := cardRef(num)
	d.ByNumber.Items[num] = rec
	d.ByUser.Items[userKey(u.ID)] = &ref
	return num, rec, nil
}

/*──────────────────────────── mutations ───────────────────────────────────*/

// EnsureCard returns the user's card, issuing one on first call.  Profile
// fields are refreshed when the new values are non-empty.
func (r *Registry) EnsureCard(u identity.User) (Card, error) {
	var out Card
	err := r.doc.Update(func(d *Document) error {
		num, rec, err := r.ensure(d, u)
		if err != nil {
			return err
		}
		out = toCard(num, rec)
		return nil
	})
	return out, err
}

// AddVisits raises the visit counter by delta and recomputes the tier.
// delta <= 0 changes nothing and returns the current card.  ok is false
// when the user has no card.
func (r *Registry) AddVisits(userID int64, delta int) (card Card, ok bool, err error) {
	if delta <= 0 {
		return r.FindByUserID(userID)
	}
	err = r.doc.Update(func(d *Document) error {
		num, rec, err := lookup(d, userID)
		if err != nil {
			return err
		}
		if rec == nil {
			return filestore.ErrSkipWrite
		}
		rec.Visits += delta
		r.recalc(rec)
		card, ok = toCard(num, rec), true
		return nil
	})
	return card, ok, err
}

// SetStaffOverride marks the user's card as staff, issuing a card first when
// needed.  An empty label keeps the stored one (or the default); a nil
// discount keeps the stored one (or the default).
func (r *Registry) SetStaffOverride(u identity.User, label string, discount *int) (Card, error) {
	var out Card
	err := r.doc.Update(func(d *Document) error {
		num, rec, err := r.ensure(d, u)
		if err != nil {
			return err
		}
		rec.StaffGold = true
		if label = strings.TrimSpace(label); label != "" {
			rec.StaffLevel = &label
		}
		if discount != nil {
			v := *discount
			rec.StaffDiscount = &v
		}
		r.recalc(rec)
		out = toCard(num, rec)
		r.log.Info("staff override set", zap.Int64("user", u.ID), zap.String("level", rec.Level))
		return nil
	})
	return out, err
}

// ClearStaffOverride returns the card to the tier derived from its visits.
func (r *Registry) ClearStaffOverride(userID int64) (card Card, ok bool, err error) {
	err = r.doc.Update(func(d *Document) error {
		num, rec, err := lookup(d, userID)
		if err != nil {
			return err
		}
		if rec == nil {
			return filestore.ErrSkipWrite
		}
		rec.StaffGold = false
		rec.StaffLevel = nil
		rec.StaffDiscount = nil
		r.recalc(rec)
		card, ok = toCard(num, rec), true
		r.log.Info("staff override cleared", zap.Int64("user", userID), zap.String("level", rec.Level))
		return nil
	})
	return card, ok, err
}

/*──────────────────────────── queries ─────────────────────────────────────*/

// view derives level and discount on a copy, so a changed tier table shows
// up before the card is next written.
func (r *Registry) view(num string, rec *record) Card {
	cp := *rec
	r.recalc(&cp)
	return toCard(num, &cp)
}

// FindByNumber looks a card up by its number.
func (r *Registry) FindByNumber(number string) (Card, bool, error) {
	number = NormalizeNumber(number)
	if number == "" {
		return Card{}, false, nil
	}
	d, err := r.doc.Load()
	if err != nil {
		return Card{}, false, err
	}
	rec, ok := d.ByNumber.Items[number]
	if !ok || rec == nil {
		return Card{}, false, nil
	}
	return r.view(number, rec), true, nil
}

// FindByUserID returns the user's card.
func (r *Registry) FindByUserID(userID int64) (Card, bool, error) {
	d, err := r.doc.Load()
	if err != nil {
		return Card{}, false, err
	}
	num, rec, err := lookup(d, userID)
	if err != nil || rec == nil {
		return Card{}, false, err
	}
	return r.view(num, rec), true, nil
}

// List returns every decodable card ordered by number.
func (r *Registry) List() ([]Card, error) {
	d, err := r.doc.Load()
	if err != nil {
		return nil, err
	}
	out := make([]Card, 0, len(d.ByNumber.Items))
	for num, rec := range d.ByNumber.Items {
		if rec == nil {
			continue
		}
		out = append(out, r.view(num, rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// TierCounts tallies non-staff cards by level label.
func (r *Registry) TierCounts() (map[string]int, error) {
	list, err := r.List()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, c := range list {
		if c.Staff {
			continue
		}
		out[c.Level]++
	}
	return out, nil
}
