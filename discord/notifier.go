package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/player"
)

const (
	colorPlaying = 0x1db954
	colorInfo    = 0x3498db
	colorWarn    = 0xf1c40f
	colorEnd     = 0x95a5a6
)

// Notifier 把播放事件渲染成 embed 发到文字频道
type Notifier struct {
	s *discordgo.Session
}

// NewNotifier 创建
func NewNotifier(s *discordgo.Session) *Notifier {
	return &Notifier{s: s}
}

// Notify 发送事件消息，返回消息 ID
func (n *Notifier) Notify(ctx context.Context, channelID string, ev player.Event) (string, error) {
	if channelID == "" {
		return "", nil
	}
	msg, err := n.s.ChannelMessageSendEmbed(channelID, renderEvent(ev), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send %s message: %w", ev.Kind, err)
	}
	return msg.ID, nil
}

// Delete 删除消息
func (n *Notifier) Delete(ctx context.Context, channelID, messageID string) error {
	if channelID == "" || messageID == "" {
		return nil
	}
	return n.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

func renderEvent(ev player.Event) *discordgo.MessageEmbed {
	switch ev.Kind {
	case player.EventNowPlaying:
		e := &discordgo.MessageEmbed{Title: "Now playing", Color: colorPlaying}
		if t := ev.Track; t != nil {
			e.Description = trackLine(t.Title, t.URI)
			e.Fields = []*discordgo.MessageEmbedField{
				{Name: "Author", Value: orDash(t.Author), Inline: true},
				{Name: "Duration", Value: formatDuration(t.DurationMs), Inline: true},
				{Name: "Requested by", Value: orDash(t.Requester.Name), Inline: true},
			}
			if t.Thumbnail != "" {
				e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: t.Thumbnail}
			}
		}
		return e
	case player.EventQueueEmpty:
		return &discordgo.MessageEmbed{Title: "Queue finished", Description: "Add more songs to keep the music going.", Color: colorInfo}
	case player.EventNodeChanged:
		return &discordgo.MessageEmbed{Title: "Node switched", Description: fmt.Sprintf("Playback moved to node `%s`.", ev.Node), Color: colorWarn}
	case player.EventSessionEnd:
		return &discordgo.MessageEmbed{Title: "Disconnected", Description: orDash(ev.Reason), Color: colorEnd}
	default:
		return &discordgo.MessageEmbed{Description: string(ev.Kind), Color: colorInfo}
	}
}

func trackLine(title, uri string) string {
	if uri == "" {
		return fmt.Sprintf("**%s**", title)
	}
	return fmt.Sprintf("[%s](%s)", title, uri)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatDuration 毫秒转 m:ss 或 h:mm:ss
func formatDuration(ms int64) string {
	if ms <= 0 {
		return "LIVE"
	}
	total := ms / 1000
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
