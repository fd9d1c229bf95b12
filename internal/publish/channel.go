package publish

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/abelbrown/jtfnews/internal/model"
)

// Poster sends text to a chat. *telegram.Client implements it.
type Poster interface {
	Send(ctx context.Context, text string) error
}

// Channel posts each story to a Telegram channel.
type Channel struct {
	poster Poster
}

// NewChannel wraps a poster configured with HTML parse mode.
func NewChannel(p Poster) *Channel {
	return &Channel{poster: p}
}

func (c *Channel) Name() string { return "telegram_channel" }

func (c *Channel) Deliver(ctx context.Context, story model.PublishedStory) error {
	if err := c.poster.Send(ctx, FormatPost(story)); err != nil {
		return fmt.Errorf("post story %s: %w", story.ID, err)
	}
	return nil
}

// FormatPost renders the channel message as Telegram HTML.
func FormatPost(story model.PublishedStory) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(story.CanonicalText))
	b.WriteString("</b>\n\n")
	for _, s := range story.Sources {
		name := s.Name
		if name == "" {
			name = s.ID
		}
		fmt.Fprintf(&b, "• %s %s\n", html.EscapeString(name), html.EscapeString(s.DisplayRating))
	}
	fmt.Fprintf(&b, "\n<i>Verified %s UTC</i>", story.VerifiedAt.UTC().Format("2006-01-02 15:04"))
	return b.String()
}
