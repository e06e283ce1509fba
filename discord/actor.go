package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/permission"
)

// actorFrom 把成员信息和频道权限位转换为权限判断的输入
func actorFrom(userID string, member *discordgo.Member, perms int64) permission.Actor {
	a := permission.Actor{
		UserID:    userID,
		IsAdmin:   perms&discordgo.PermissionAdministrator != 0,
		CanManage: perms&discordgo.PermissionManageGuild != 0,
	}
	if member != nil {
		a.RoleIDs = append([]string(nil), member.Roles...)
	}
	return a
}
