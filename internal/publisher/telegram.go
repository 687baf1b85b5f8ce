package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"crosspost/internal/content"
	logx "crosspost/pkg/logx"
)

const (
	telegramTextLimit    = 4000
	telegramCaptionLimit = 1024
)

// sender is the slice of telebot the publisher needs, split out so tests can
// script it.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	SendAlbum(to tele.Recipient, a tele.Album, opts ...interface{}) ([]tele.Message, error)
}

// Telegram posts to a channel or chat through a shared telebot instance.
// Long texts are sent as multiple messages; the first message id becomes the
// platform post reference.
type Telegram struct {
	bot  sender
	chat *tele.Chat
	log  logx.Logger
}

func NewTelegram(bot *tele.Bot, chatID int64, log logx.Logger) *Telegram {
	return &Telegram{
		bot:  bot,
		chat: &tele.Chat{ID: chatID},
		log:  log.With(logx.String("comp", "publisher.telegram")),
	}
}

func (p *Telegram) Publish(ctx context.Context, text string, media []content.MediaRef) (string, error) {
	album := p.album(media)
	if len(album) == 0 {
		if strings.TrimSpace(text) == "" {
			return "", errors.New("telegram: empty post")
		}
		return p.sendText(ctx, text)
	}

	// Short texts ride along as the caption; anything longer follows as its
	// own message(s) after the media.
	caption, rest := text, ""
	if utf8.RuneCountInString(text) > telegramCaptionLimit {
		caption, rest = "", text
	}
	setCaption(album[0], caption)

	var firstID int
	if len(album) == 1 {
		msg, err := p.bot.Send(p.chat, album[0])
		if err != nil {
			return "", fmt.Errorf("telegram send media: %w", err)
		}
		firstID = msg.ID
	} else {
		msgs, err := p.bot.SendAlbum(p.chat, album)
		if err != nil {
			return "", fmt.Errorf("telegram send album: %w", err)
		}
		if len(msgs) == 0 {
			return "", errors.New("telegram send album: empty response")
		}
		firstID = msgs[0].ID
	}

	if rest != "" {
		if _, err := p.sendText(ctx, rest); err != nil {
			p.log.Warn("media sent but text failed", logx.Int("message_id", firstID), logx.Err(err))
			return "", err
		}
	}
	return strconv.Itoa(firstID), nil
}

func (p *Telegram) sendText(ctx context.Context, text string) (string, error) {
	firstID := 0
	for _, chunk := range splitText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		msg, err := p.bot.Send(p.chat, chunk)
		if err != nil {
			return "", fmt.Errorf("telegram send: %w", err)
		}
		if firstID == 0 {
			firstID = msg.ID
		}
	}
	if firstID == 0 {
		return "", errors.New("telegram: nothing sent")
	}
	return strconv.Itoa(firstID), nil
}

func (p *Telegram) album(media []content.MediaRef) tele.Album {
	var album tele.Album
	for _, m := range media {
		f := mediaFile(m.Ref)
		switch m.Kind {
		case content.MediaPhoto:
			album = append(album, &tele.Photo{File: f})
		case content.MediaVideo:
			album = append(album, &tele.Video{File: f})
		default:
			p.log.Warn("unsupported media kind, skipping",
				logx.String("kind", string(m.Kind)),
				logx.String("ref", m.Ref))
		}
	}
	return album
}

func setCaption(item tele.Inputtable, caption string) {
	if caption == "" {
		return
	}
	switch v := item.(type) {
	case *tele.Photo:
		v.Caption = caption
	case *tele.Video:
		v.Caption = caption
	}
}

// mediaFile resolves a media reference: URL, local path, or an already-known
// Telegram file id.
func mediaFile(ref string) tele.File {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return tele.FromURL(ref)
	}
	if _, err := os.Stat(ref); err == nil {
		return tele.FromDisk(ref)
	}
	return tele.File{FileID: ref}
}

// splitText splits long messages into chunks Telegram accepts, preferring a
// newline boundary near the end of the window over a hard cut.
func splitText(s string, limit int) []string {
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
					// Avoid extremely small chunks.
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
