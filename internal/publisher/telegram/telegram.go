package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"autopost/internal/store"
	logx "autopost/pkg/logx"
)

type Config struct {
	Token  string
	ChatID int64
	// RatePerSec caps outbound sends. Telegram throttles hard otherwise.
	RatePerSec int
	// Timeout bounds a single send, including connection setup.
	Timeout time.Duration
}

// Publisher posts content items to a Telegram chat.
type Publisher struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
		// No poller: this bot only sends.
	})
	if err != nil {
		return nil, err
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, item *store.ContentItem) error {
	if item == nil {
		return errors.New("nil content item")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	text := formatPost(item)
	start := time.Now()
	_, err := p.bot.Send(tele.ChatID(p.cfg.ChatID), text)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	p.log.Debug("published to telegram",
		logx.Int64("content_id", item.ID),
		logx.String("platform", string(item.Platform)),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}

// formatPost renders the item as a single message. The media URL goes
// on its own line so Telegram generates a preview for it.
func formatPost(item *store.ContentItem) string {
	var b strings.Builder
	b.WriteString(item.Title)
	if u := strings.TrimSpace(item.MediaURL); u != "" {
		b.WriteString("\n")
		b.WriteString(u)
	}
	b.WriteString("\n\nvia ")
	b.WriteString(string(item.Platform))
	return b.String()
}
