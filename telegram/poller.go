package telegram

import (
	"context"
	"encoding/json"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"
)

// SecretHeader carries the webhook secret set with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateSource is the long-polling part of *tgbotapi.BotAPI.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Poll reads updates until ctx is done or the channel closes, handling up
// to workers updates at once. In-flight updates finish before Poll returns.
func (a *Adapter) Poll(ctx context.Context, src UpdateSource, workers int) error {
	if workers < 1 {
		workers = 1
	}
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	updates := src.GetUpdatesChan(cfg)

	var g errgroup.Group
	g.SetLimit(workers)

	a.log.Info().Int("workers", workers).Msg("polling for updates")
	for {
		select {
		case <-ctx.Done():
			src.StopReceivingUpdates()
			return g.Wait()
		case upd, ok := <-updates:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				// Each update runs to completion even during shutdown.
				a.HandleUpdate(context.WithoutCancel(ctx), upd)
				return nil
			})
		}
	}
}

// WebhookHandler accepts updates pushed by Telegram. Requests without the
// matching secret header are rejected.
func (a *Adapter) WebhookHandler(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret == "" || r.Header.Get(SecretHeader) != secret {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		var upd tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			a.log.Warn().Err(err).Msg("bad webhook payload")
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		a.HandleUpdate(r.Context(), upd)
		w.WriteHeader(http.StatusOK)
	}
}
