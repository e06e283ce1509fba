package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/session"
)

// VoicePresence 基于 discordgo 状态缓存回答“语音频道里有哪些真人”
type VoicePresence struct {
	state    *discordgo.State
	sessions *session.Store
}

// NewVoicePresence 创建
func NewVoicePresence(state *discordgo.State, sessions *session.Store) *VoicePresence {
	return &VoicePresence{state: state, sessions: sessions}
}

// NonBotMembers 机器人当前所在频道的非机器人成员数量
func (p *VoicePresence) NonBotMembers(guildID string) (int, error) {
	sess, ok := p.sessions.Get(guildID)
	if !ok || sess.VoiceChannelID == "" {
		return 0, nil
	}
	listeners, err := p.Listeners(guildID, sess.VoiceChannelID)
	if err != nil {
		return 0, err
	}
	return len(listeners), nil
}

// Listeners 指定语音频道里的非机器人成员 ID
func (p *VoicePresence) Listeners(guildID, channelID string) ([]string, error) {
	states, err := p.voiceStates(guildID)
	if err != nil {
		return nil, err
	}
	return listenersIn(states, channelID, p.botID(), func(vs *discordgo.VoiceState) bool {
		return p.isBot(guildID, vs)
	}), nil
}

// UserChannel 用户所在的语音频道，不在语音中返回空串
func (p *VoicePresence) UserChannel(guildID, userID string) string {
	states, err := p.voiceStates(guildID)
	if err != nil {
		return ""
	}
	for _, vs := range states {
		if vs.UserID == userID {
			return vs.ChannelID
		}
	}
	return ""
}

// voiceStates 复制一份，避免持有 State 读锁时再次加锁
func (p *VoicePresence) voiceStates(guildID string) ([]*discordgo.VoiceState, error) {
	guild, err := p.state.Guild(guildID)
	if err != nil {
		return nil, err
	}
	p.state.RLock()
	defer p.state.RUnlock()
	out := make([]*discordgo.VoiceState, len(guild.VoiceStates))
	copy(out, guild.VoiceStates)
	return out, nil
}

func (p *VoicePresence) botID() string {
	if p.state.User == nil {
		return ""
	}
	return p.state.User.ID
}

func (p *VoicePresence) isBot(guildID string, vs *discordgo.VoiceState) bool {
	if vs.Member != nil && vs.Member.User != nil {
		return vs.Member.User.Bot
	}
	m, err := p.state.Member(guildID, vs.UserID)
	if err != nil || m.User == nil {
		return false
	}
	return m.User.Bot
}

func listenersIn(states []*discordgo.VoiceState, channelID, botID string, isBot func(*discordgo.VoiceState) bool) []string {
	var out []string
	for _, vs := range states {
		if vs.ChannelID != channelID || vs.UserID == botID {
			continue
		}
		if isBot(vs) {
			continue
		}
		out = append(out, vs.UserID)
	}
	return out
}
