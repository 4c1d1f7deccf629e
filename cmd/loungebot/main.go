// cmd/loungebot/main.go
//
// Lounge loyalty bot – process entry point.
//
// Start-up sequence
// -----------------
//
//  1. Vault client when VAULT_ADDR is set, so config may hold vault: refs.
//
//  2. Load configuration (.env → conf/global.yaml → LOUNGE_ env).
//
//  3. Start the daily rotating logger (tees to console in a TTY).
//
//  4. Open the three JSON documents on one shared write lock.
//
//  5. Wire role store, leaderboard, segments, loyalty service, and the
//     broadcast dispatcher.
//
//  6. Run the Telegram poller and the ops HTTP server in one errgroup.
//     SIGINT or SIGTERM cancels both; running broadcasts stop between sends.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanizio/loungebot/internal/acl"
	"github.com/yanizio/loungebot/internal/bot"
	"github.com/yanizio/loungebot/internal/broadcast"
	"github.com/yanizio/loungebot/internal/cards"
	"github.com/yanizio/loungebot/internal/config"
	"github.com/yanizio/loungebot/internal/events"
	"github.com/yanizio/loungebot/internal/filestore"
	"github.com/yanizio/loungebot/internal/httpapi"
	"github.com/yanizio/loungebot/internal/leaderboard"
	"github.com/yanizio/loungebot/internal/logger"
	"github.com/yanizio/loungebot/internal/loyalty"
	"github.com/yanizio/loungebot/internal/segment"
	"github.com/yanizio/loungebot/internal/server"
	"github.com/yanizio/loungebot/internal/timeutil"
	"github.com/yanizio/loungebot/internal/vault"
)

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// tgLogger routes the Telegram library's own logging into zap.
type tgLogger struct{ s *zap.SugaredLogger }

func (l tgLogger) Println(v ...any)               { l.s.Info(v...) }
func (l tgLogger) Printf(format string, v ...any) { l.s.Infof(format, v...) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		zap.S().Errorw("exit", "err", err)
		_ = zap.L().Sync()
		log.Fatalf("loungebot: %v", err)
	}
	_ = zap.L().Sync()
}

func run(ctx context.Context) error {
	//
	// ── 1.  Secrets and configuration ──────────────────────────────────
	//
	var secrets config.SecretResolver
	if os.Getenv("VAULT_ADDR") != "" {
		vc, err := vault.New(ctx)
		if err != nil {
			return err
		}
		secrets = vc
	}
	cfg, err := config.Load(ctx, secrets)
	if err != nil {
		return err
	}

	logOut, err := logger.New(cfg.Paths.LogDir, runningInTTY(), cfg.Log.Debug)
	if err != nil {
		return err
	}
	if err := tgbotapi.SetLogger(tgLogger{logOut.Named("telegram")}); err != nil {
		return err
	}

	zone, err := timeutil.Zone(cfg.Loyalty.Timezone)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return err
	}

	//
	// ── 2.  Documents and services ─────────────────────────────────────
	//
	l := cfg.Loyalty
	tiers := l.TierTable()
	lock := filestore.NewLock()
	doc := func(name string) string { return filepath.Join(cfg.Paths.DataDir, name) }

	// Windowed counts and legacy stamps use the process zone; the business
	// day for visit checks uses the reference zone.
	ev := events.Open(doc("admin_stats.json"), lock, events.Options{
		LegacySource:   l.LegacySource,
		Zone:           time.Local,
		CooldownExempt: l.ExemptKinds,
	})
	reg := cards.Open(doc("level_cards.json"), lock, cards.Options{
		Tiers:         tiers,
		StaffLabel:    l.Staff.AdminLabel,
		StaffDiscount: l.Staff.Discount,
	})
	roles := acl.Open(doc(acl.DocumentName+".json"), lock, ev, reg, acl.Options{
		SuperadminIDs:   cfg.Roles.SuperadminIDs,
		AdminLabel:      l.Staff.AdminLabel,
		SuperadminLabel: l.Staff.SuperadminLabel,
	})

	awards := make([]leaderboard.Award, 0, len(l.Awards))
	for _, a := range l.Awards {
		awards = append(awards, leaderboard.Award{Place: a.Place, Bonus: a.Bonus, Medal: a.Medal})
	}
	launch := l.Launch()
	board := leaderboard.New(ev, roles, leaderboard.Options{
		Zone:   zone,
		Launch: timeutil.Month{Year: launch.Year(), Month: launch.Month()},
		Awards: awards,
		Source: cfg.Bot.Source,
	})
	segs := segment.New(ev, reg, roles, segment.Options{
		Source:       cfg.Bot.Source,
		CooldownDays: l.CooldownDays,
		Tiers:        tiers,
	})
	svc := loyalty.New(loyalty.Deps{Events: ev, Cards: reg, Roles: roles, Board: board}, loyalty.Options{
		Source:          cfg.Bot.Source,
		Zone:            zone,
		BusinessDayHour: l.BusinessDayHour,
		Tiers:           tiers,
	})

	// Fail fast on corrupt documents rather than on the first update.
	if _, err := svc.Stats(); err != nil {
		return err
	}

	//
	// ── 3.  Telegram transport ─────────────────────────────────────────
	//
	api, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		return err
	}
	api.Debug = cfg.Bot.APIDebug
	logOut.Infow("bot online", "username", api.Self.UserName)

	disp := broadcast.New(bot.NewSender(api), ev, roles, broadcast.Options{
		Source:       cfg.Bot.Source,
		CooldownDays: l.CooldownDays,
		ExemptKinds:  l.ExemptKinds,
		Pace:         cfg.Broadcast.Pace,
	})
	handler := bot.New(api, bot.Deps{Loyalty: svc, Segments: segs, Broadcast: disp}, bot.Options{
		Source: cfg.Bot.Source,
	})

	//
	// ── 4.  Run until signalled ────────────────────────────────────────
	//
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return handler.Run(gctx, api, cfg.Bot.PollTimeout) })
	if cfg.HTTP.ListenAddr != "" {
		routes := httpapi.New(svc, segs, httpapi.Options{Token: cfg.HTTP.APIToken, Source: cfg.Bot.Source}).Routes()
		g.Go(func() error { return server.Run(gctx, server.New(cfg.HTTP.ListenAddr, routes)) })
	}
	err = g.Wait()
	logOut.Infow("shutdown complete")
	return err
}
