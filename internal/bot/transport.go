// internal/bot/transport.go
//
// Long polling and message copying on top of go-telegram-bot-api.
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/yanizio/loungebot/internal/broadcast"
)

// Poller is the update source, normally *tgbotapi.BotAPI.
type Poller interface {
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Run long-polls until ctx is done, then waits for running broadcasts.
// Updates are handled one at a time, in order.
func (h *Handler) Run(ctx context.Context, p Poller, timeout int) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = timeout
	cfg.AllowedUpdates = []string{"message", "my_chat_member"}
	updates := p.GetUpdatesChan(cfg)
	defer h.Wait()
	defer p.StopReceivingUpdates()

	h.log.Info("polling started")
	for {
		select {
		case <-ctx.Done():
			h.log.Info("polling stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return errors.New("update channel closed")
			}
			h.HandleUpdate(ctx, upd)
		}
	}
}

// Sender copies broadcast posts with copyMessage.
type Sender struct {
	api API
}

// NewSender wraps api as a broadcast.Sender.
func NewSender(api API) *Sender { return &Sender{api: api} }

// Copy implements broadcast.Sender.  A 403 from Telegram is reported as
// broadcast.ErrBlocked.
func (s *Sender) Copy(ctx context.Context, chatID, fromChat int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.api.Request(tgbotapi.NewCopyMessage(chatID, fromChat, messageID))
	if err == nil {
		return nil
	}
	if blocked(err) {
		return fmt.Errorf("%w: %v", broadcast.ErrBlocked, err)
	}
	return err
}

func blocked(err error) bool {
	var tgErr *tgbotapi.Error
	return errors.As(err, &tgErr) && tgErr.Code == http.StatusForbidden
}
