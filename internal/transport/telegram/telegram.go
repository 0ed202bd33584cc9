package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"briefbot/internal/transport"
	"briefbot/pkg/logx"
)

// TextLimit keeps a margin under Telegram's 4096-char message cap; the
// delivery chunker targets this.
const TextLimit = 4000

type Config struct {
	Token   string
	Timeout time.Duration // API call timeout; 0 means default
}

// Gateway posts to Telegram chats via the Bot API. It is send-only: the
// daemon has no command surface, so no update polling is started.
type Gateway struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Gateway, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: teleHTTPClient(cfg.Timeout),
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{cfg: cfg, log: log, bot: b}, nil
}

func (g *Gateway) Post(ctx context.Context, to transport.ChannelRef, content string, opt *transport.PostOptions) error {
	if opt == nil {
		opt = &transport.PostOptions{}
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}

	// The dispatcher chunks to TextLimit; this split is a safety net for
	// content that slipped past it.
	for _, chunk := range splitText(content, TextLimit) {
		if _, err := g.bot.Send(&tele.Chat{ID: to.ChatID}, chunk, sendOpt); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) Stop(ctx context.Context) error {
	_ = ctx
	// Send-only bot: nothing long-running to drain.
	return nil
}

func teleHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// splitText splits oversized content into rune-bounded chunks, preferring
// newline boundaries near the end of each window.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = TextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					if i-start >= limit/3 {
						end = i + 1
					}
					break
				}
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		if chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
