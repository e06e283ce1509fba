// Package discord 把 Discord 网关事件接到播放控制层：消息命令、语音状态和频道通知。
package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/autoleave"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/player"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/logger"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

// Bot Discord 连接与事件处理
type Bot struct {
	session   *discordgo.Session
	ctrl      *player.Controller
	scheduler *autoleave.Scheduler
	presence  *VoicePresence
	router    *Router
}

// NewSession 创建 discordgo 会话并设置所需的 intents
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent
	s.StateEnabled = true
	return s, nil
}

// NewBot 组装事件处理器；scheduler 与 router 可以稍后通过 Attach 设置
func NewBot(s *discordgo.Session, ctrl *player.Controller, presence *VoicePresence) *Bot {
	return &Bot{session: s, ctrl: ctrl, presence: presence}
}

// Attach 设置自动离开调度器和命令路由
func (b *Bot) Attach(scheduler *autoleave.Scheduler, router *Router) {
	b.scheduler = scheduler
	b.router = router
}

// Open 注册处理器并连接网关
func (b *Bot) Open() error {
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		logger.Info("Discord 已连接", logger.String("user", r.User.Username), logger.Int("guilds", len(r.Guilds)))
	})
	if b.router != nil {
		b.session.AddHandler(b.router.OnMessageCreate)
	}
	b.session.AddHandler(b.VoiceStateUpdateHandler)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	return nil
}

// Close 断开网关
func (b *Bot) Close() error {
	return b.session.Close()
}

// VoiceStateUpdateHandler 处理语音频道进出
func (b *Bot) VoiceStateUpdateHandler(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil {
		return
	}
	sess, ok := b.ctrl.Store().Get(v.GuildID)
	if !ok {
		return
	}

	// 机器人自己被断开
	if s.State.User != nil && v.UserID == s.State.User.ID {
		if v.ChannelID == "" {
			logger.Info("机器人被断开语音", logger.String("guild_id", v.GuildID))
			b.ctrl.OnPlayerDisconnected(v.GuildID)
		}
		return
	}

	if !touchesChannel(v, sess.VoiceChannelID) || b.scheduler == nil {
		return
	}
	n, err := b.presence.NonBotMembers(v.GuildID)
	if err != nil {
		logger.Warn("统计语音成员失败", logger.String("guild_id", v.GuildID), logger.ErrorField(err))
		return
	}
	b.scheduler.OnVoicePresenceChanged(v.GuildID, n)
}

// touchesChannel 事件是否涉及机器人所在频道（进入或离开）
func touchesChannel(v *discordgo.VoiceStateUpdate, channelID string) bool {
	if channelID == "" {
		return false
	}
	if v.ChannelID == channelID {
		return true
	}
	return v.BeforeUpdate != nil && v.BeforeUpdate.ChannelID == channelID
}

// ========== 会话观察者 ==========

// GuildStateChanged 不关心
func (b *Bot) GuildStateChanged(*model.GuildState) {}

// GuildDestroyed 会话结束时清掉离开定时器
func (b *Bot) GuildDestroyed(guildID, _ string) {
	if b.scheduler != nil {
		b.scheduler.Cancel(guildID)
	}
}
