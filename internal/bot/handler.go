// internal/bot/handler.go
//
// Telegram update handler.
//
// Context
// -------
// Every update passes the same gate before any command runs:
//
//	dedup (update id, short TTL) → Seen (profile touch, admin sync)
//	→ registry lookup → role check → command
//
// Commands talk to the loyalty service, the segment engine, and the
// broadcast dispatcher.  They never touch the documents directly.
//
// Notes
// -----
//   • Staff may also send a bare card number without /visit.
//   • Broadcasts run in the background; Wait blocks until they finish.
//   • A 403 on a reply means the user blocked the bot and is recorded as an
//     unsubscribe, same as a failed broadcast copy.
//
// Instrumentation
// ---------------
// Handled updates are counted per command, duplicates separately.
package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/yanizio/loungebot/internal/acl"
	"github.com/yanizio/loungebot/internal/broadcast"
	"github.com/yanizio/loungebot/internal/cache"
	"github.com/yanizio/loungebot/internal/identity"
	"github.com/yanizio/loungebot/internal/leaderboard"
	"github.com/yanizio/loungebot/internal/loyalty"
	"github.com/yanizio/loungebot/internal/metrics"
	"github.com/yanizio/loungebot/internal/segment"
)

// API is the slice of *tgbotapi.BotAPI the handler uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Deps are the services commands call.
type Deps struct {
	Loyalty   *loyalty.Service
	Segments  *segment.Engine
	Broadcast *broadcast.Dispatcher
}

// Options tunes the handler.
type Options struct {
	// Source is the visit source the rating counts.
	Source    string
	DedupTTL  time.Duration
	DedupSize int
}

// Handler routes updates to commands.  Safe for concurrent use.
type Handler struct {
	Deps
	api  API
	opts Options
	cmds *Registry
	seen *cache.LRU[int, struct{}]
	wg   sync.WaitGroup
	log  *zap.Logger
}

// Call is one command invocation.
type Call struct {
	h     *Handler
	Msg   *tgbotapi.Message
	User  identity.User
	Args  string
	Level acl.Level
}

// Reply answers in the chat the command came from.
func (c *Call) Reply(text string) { c.h.reply(c.Msg.Chat.ID, text) }

// New builds a Handler with the standard command set.
func New(api API, d Deps, opts Options) *Handler {
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 2 * time.Second
	}
	if opts.DedupSize <= 0 {
		opts.DedupSize = 4096
	}
	h := &Handler{
		Deps: d,
		api:  api,
		opts: opts,
		cmds: NewRegistry(),
		seen: cache.New[int, struct{}](opts.DedupSize, opts.DedupTTL),
		log:  zap.L().Named("bot"),
	}
	h.registerCommands()
	return h
}

// Commands exposes the registry, e.g. to add venue-specific commands.
func (h *Handler) Commands() *Registry { return h.cmds }

// Wait blocks until background broadcasts have finished.
func (h *Handler) Wait() { h.wg.Wait() }

func (h *Handler) registerCommands() {
	h.cmds.Register("start", Command{Level: acl.Guest, Run: h.cmdStart})
	h.cmds.Register("card", Command{Level: acl.Guest, Run: h.cmdCard})
	h.cmds.Register("rating", Command{Level: acl.Guest, Run: h.cmdRating})
	h.cmds.Register("help", Command{Level: acl.Guest, Run: h.cmdHelp})
	h.cmds.Register("visit", Command{Level: acl.Admin, Run: h.cmdVisit})
	h.cmds.Register("admins", Command{Level: acl.Superadmin, Run: h.cmdAdmins})
	h.cmds.Register("promote", Command{Level: acl.Superadmin, Run: h.cmdPromote})
	h.cmds.Register("demote", Command{Level: acl.Superadmin, Run: h.cmdDemote})
	h.cmds.Register("stats", Command{Level: acl.Superadmin, Run: h.cmdStats})
	h.cmds.Register("segments", Command{Level: acl.Superadmin, Run: h.cmdSegments})
	h.cmds.Register("broadcast", Command{Level: acl.Superadmin, Run: h.cmdBroadcast})
}

/*──────────────────────────── dispatch ────────────────────────────────────*/

// HandleUpdate processes one update.  Errors are logged and answered, never
// returned; the poll loop keeps going.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if h.seen.Seen(upd.UpdateID) {
		metrics.UpdatesDuplicateTotal.Inc()
		h.log.Debug("duplicate update", zap.Int("update", upd.UpdateID))
		return
	}
	if m := upd.MyChatMember; m != nil {
		h.membership(m)
		return
	}
	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	u := userOf(msg.From)
	if err := h.Loyalty.Seen(u); err != nil {
		h.log.Error("seen", zap.Int64("user", u.ID), zap.Error(err))
	}

	level, err := h.Loyalty.Roles.LevelOf(u.ID, u.Username)
	if err != nil {
		h.log.Error("level lookup", zap.Int64("user", u.ID), zap.Error(err))
		level = acl.Guest
	}
	call := &Call{h: h, Msg: msg, User: u, Level: level}

	if !msg.IsCommand() {
		text := strings.TrimSpace(msg.Text)
		if level >= acl.Admin && isDigits(text) {
			call.Args = text
			h.run(ctx, "visit", Command{Level: acl.Admin, Run: h.cmdVisit}, call)
		}
		return
	}

	name := strings.ToLower(msg.Command())
	cmd, ok := h.cmds.Lookup(name)
	if !ok {
		metrics.UpdatesHandledTotal.WithLabelValues("unknown").Inc()
		call.Reply(msgUnknown)
		return
	}
	if level < cmd.Level {
		metrics.UpdatesHandledTotal.WithLabelValues("denied").Inc()
		h.log.Info("command denied", zap.String("command", name), zap.Int64("user", u.ID),
			zap.Stringer("level", level))
		call.Reply(msgDenied)
		return
	}
	call.Args = strings.TrimSpace(msg.CommandArguments())
	h.run(ctx, name, cmd, call)
}

func (h *Handler) run(ctx context.Context, name string, cmd Command, c *Call) {
	metrics.UpdatesHandledTotal.WithLabelValues(name).Inc()
	if c.Level == acl.Guest {
		if err := h.Loyalty.Events.RecordClick(c.User.ID); err != nil {
			h.log.Warn("record click", zap.Int64("user", c.User.ID), zap.Error(err))
		}
	}
	if err := cmd.Run(ctx, c); err != nil {
		h.log.Error("command failed", zap.String("command", name), zap.Int64("user", c.User.ID), zap.Error(err))
		c.Reply(msgFailed)
	}
}

// membership tracks the user blocking or restarting the bot.
func (h *Handler) membership(m *tgbotapi.ChatMemberUpdated) {
	uid := m.From.ID
	switch m.NewChatMember.Status {
	case "kicked", "left":
		if err := h.Loyalty.Events.MarkUnsubscribed(uid); err != nil {
			h.log.Error("mark unsubscribed", zap.Int64("user", uid), zap.Error(err))
		}
	case "member":
		if err := h.Loyalty.Seen(userOf(&m.From)); err != nil {
			h.log.Error("seen", zap.Int64("user", uid), zap.Error(err))
		}
	}
}

func (h *Handler) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := h.api.Send(msg); err != nil {
		if blocked(err) {
			if uerr := h.Loyalty.Events.MarkUnsubscribed(chatID); uerr != nil {
				h.log.Error("mark unsubscribed", zap.Int64("chat", chatID), zap.Error(uerr))
			}
			return
		}
		h.log.Error("send reply", zap.Int64("chat", chatID), zap.Error(err))
	}
}

/*──────────────────────────── guest commands ──────────────────────────────*/

func (h *Handler) cmdStart(_ context.Context, c *Call) error {
	_, had, err := h.Loyalty.Cards.FindByUserID(c.User.ID)
	if err != nil {
		return err
	}
	card, err := h.Loyalty.Register(c.User)
	if err != nil {
		return err
	}
	view, err := h.Loyalty.Card(c.User)
	if err != nil {
		return err
	}
	text := cardText(c.User, view)
	if !had {
		text = registeredText(card.Level) + "\n\n" + text
	}
	c.Reply(text)
	return nil
}

func (h *Handler) cmdCard(_ context.Context, c *Call) error {
	view, err := h.Loyalty.Card(c.User)
	if err != nil {
		return err
	}
	c.Reply(cardText(c.User, view))
	return nil
}

func (h *Handler) cmdRating(_ context.Context, c *Call) error {
	board := h.Loyalty.Board
	awards := board.Awards()
	m := board.CurrentMonth()
	before := m.Before(board.Launch())
	if before {
		m = board.Launch()
	}
	entries, err := board.MonthlyLeaderboard(m.Year, m.Month, leaderboard.Query{
		Source:     h.opts.Source,
		Limit:      len(awards),
		ActiveOnly: true,
	})
	if err != nil {
		return err
	}
	rows := make([]ratingRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, ratingRow{Entry: e, Name: h.guestName(e.UserID)})
	}
	c.Reply(ratingText(m, awards, rows, before))
	return nil
}

// guestName is the Telegram profile name, never the username, so winners
// can't be looked up from the rating.
func (h *Handler) guestName(uid int64) string {
	rec, ok, err := h.Loyalty.Events.Get(uid)
	if err != nil || !ok {
		return "Гость"
	}
	name := strings.TrimSpace(strings.TrimSpace(rec.FirstName) + " " + strings.TrimSpace(rec.LastName))
	if name == "" {
		return "Гость"
	}
	return name
}

func (h *Handler) cmdHelp(_ context.Context, c *Call) error {
	names := h.cmds.Names(c.Level)
	for i, n := range names {
		names[i] = "/" + n
	}
	c.Reply(strings.Join(names, "\n"))
	return nil
}

/*──────────────────────────── staff commands ──────────────────────────────*/

func (h *Handler) cmdVisit(_ context.Context, c *Call) error {
	res, err := h.Loyalty.ConfirmVisit(c.Args, c.User.ID)
	switch {
	case err == nil:
		c.Reply(visitText(res, false))
	case errors.Is(err, loyalty.ErrAlreadyVisitedToday):
		c.Reply(visitText(res, true))
	case errors.Is(err, loyalty.ErrInvalidCardNumber):
		c.Reply(msgNeedNumber)
	case errors.Is(err, loyalty.ErrCardNotFound):
		c.Reply(msgCardNotFound)
	case errors.Is(err, loyalty.ErrSelfVisit):
		c.Reply(msgSelfVisit)
	default:
		return err
	}
	return nil
}

func (h *Handler) cmdAdmins(_ context.Context, c *Call) error {
	rows, err := h.Loyalty.Admins()
	if err != nil {
		return err
	}
	c.Reply(adminsText(rows))
	return nil
}

func (h *Handler) cmdPromote(_ context.Context, c *Call) error {
	if c.Args == "" {
		c.Reply(msgNeedUsername)
		return nil
	}
	uid, err := h.Loyalty.Promote(c.Args)
	if errors.Is(err, acl.ErrInvalidUsername) {
		c.Reply(msgBadUsername)
		return nil
	}
	if err != nil {
		return err
	}
	c.Reply(promotedText(identity.NormalizeUsername(c.Args), uid))
	return nil
}

func (h *Handler) cmdDemote(_ context.Context, c *Call) error {
	if c.Args == "" {
		c.Reply(msgNeedUsername)
		return nil
	}
	_, err := h.Loyalty.Demote(c.Args)
	switch {
	case errors.Is(err, acl.ErrInvalidUsername):
		c.Reply(msgBadUsername)
	case errors.Is(err, acl.ErrNotAdmin):
		c.Reply(msgNotAdmin)
	case err != nil:
		return err
	default:
		c.Reply(demotedText(identity.NormalizeUsername(c.Args)))
	}
	return nil
}

func (h *Handler) cmdStats(_ context.Context, c *Call) error {
	st, err := h.Loyalty.Stats()
	if err != nil {
		return err
	}
	c.Reply(statsText(st))
	return nil
}

func (h *Handler) cmdSegments(_ context.Context, c *Call) error {
	rows, err := h.Segments.Counts()
	if err != nil {
		return err
	}
	c.Reply(segmentsText(rows))
	return nil
}

func (h *Handler) cmdBroadcast(ctx context.Context, c *Call) error {
	post := c.Msg.ReplyToMessage
	if post == nil || c.Args == "" {
		c.Reply(msgNeedReply)
		return nil
	}
	spec, err := segment.ParseSpec(c.Args)
	if errors.Is(err, segment.ErrUnknownSpec) {
		c.Reply(msgUnknownSegment)
		return nil
	}
	if err != nil {
		return err
	}
	label, ids, err := h.Segments.TargetsFor(spec)
	if err != nil {
		return err
	}
	kind := broadcast.DefaultKind
	if spec.Kind == segment.Contest {
		kind = spec.String()
	}
	c.Reply(broadcastStartedText(label, len(ids)))

	camp := broadcast.Campaign{Kind: kind, Targets: ids, FromChat: post.Chat.ID, MessageID: post.MessageID}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		rep, err := h.Broadcast.Send(ctx, camp)
		if err != nil {
			h.log.Warn("broadcast ended early", zap.String("campaign", rep.Campaign), zap.Error(err))
		}
		c.Reply(broadcastText(rep))
	}()
	return nil
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func userOf(u *tgbotapi.User) identity.User {
	return identity.User{
		ID:        u.ID,
		Username:  u.UserName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
