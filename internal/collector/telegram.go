package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"crosspost/internal/content"
	logx "crosspost/pkg/logx"
)

// rawCaller is the slice of telebot the collector needs, split out so tests
// can script it.
type rawCaller interface {
	Raw(method string, payload interface{}) ([]byte, error)
}

// Telegram records the channel audience size at collection time. The Bot API
// exposes no per-message view counter, so member count is the one engagement
// signal available to a bot.
type Telegram struct {
	bot    rawCaller
	chatID int64
	log    logx.Logger
}

func NewTelegram(bot *tele.Bot, chatID int64, log logx.Logger) *Telegram {
	return &Telegram{
		bot:    bot,
		chatID: chatID,
		log:    log.With(logx.String("comp", "collector.telegram")),
	}
}

func (c *Telegram) Fetch(ctx context.Context, post *content.Post) (content.MetricSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return content.MetricSnapshot{}, err
	}

	data, err := c.bot.Raw("getChatMemberCount", map[string]string{
		"chat_id": strconv.FormatInt(c.chatID, 10),
	})
	if err != nil {
		return content.MetricSnapshot{}, fmt.Errorf("getChatMemberCount: %w", err)
	}

	var resp struct {
		Result int64 `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return content.MetricSnapshot{}, fmt.Errorf("getChatMemberCount: decode: %w", err)
	}
	return content.MetricSnapshot{
		Values: map[string]int64{"audience": resp.Result},
	}, nil
}
