// Package permission 判断一个用户能否执行播放控制命令。
package permission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

// ErrPermissionDenied 权限不足
var ErrPermissionDenied = errors.New("permission denied")

// Level 授权来源，数值越小优先级越高
type Level int

const (
	LevelNone Level = iota
	LevelOwner
	LevelAdmin
	LevelManager
	LevelDJRole
	LevelDJUser
	LevelRequester
	LevelAlone
)

func (l Level) String() string {
	switch l {
	case LevelOwner:
		return "owner"
	case LevelAdmin:
		return "admin"
	case LevelManager:
		return "manager"
	case LevelDJRole:
		return "dj_role"
	case LevelDJUser:
		return "dj_user"
	case LevelRequester:
		return "requester"
	case LevelAlone:
		return "alone"
	default:
		return "none"
	}
}

// Actor 发起命令的用户
type Actor struct {
	UserID    string
	RoleIDs   []string
	IsAdmin   bool // 拥有管理员权限
	CanManage bool // 拥有管理服务器权限
}

// Request 一次权限判断所需的全部输入
type Request struct {
	Actor     Actor
	OwnerID   string
	DJ        *model.DJSettings // nil 表示未配置
	Requester string            // 当前曲目的点歌人
	// Listeners 机器人所在语音频道里的非机器人成员
	Listeners []string
}

// Decision 判断结果
type Decision struct {
	Allowed bool
	Level   Level
	Reason  string // 拒绝原因
}

// Err 拒绝时返回包装了 ErrPermissionDenied 的错误
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPermissionDenied, d.Reason)
}

// Evaluate 按优先级依次检查，第一条命中即放行
func Evaluate(req Request) Decision {
	a := req.Actor
	allow := func(l Level) Decision { return Decision{Allowed: true, Level: l} }

	if req.OwnerID != "" && a.UserID == req.OwnerID {
		return allow(LevelOwner)
	}
	if a.IsAdmin {
		return allow(LevelAdmin)
	}
	if a.CanManage {
		return allow(LevelManager)
	}

	dj := req.DJ
	djOn := dj != nil && dj.Enabled
	if djOn && dj.RoleID != "" {
		for _, r := range a.RoleIDs {
			if r == dj.RoleID {
				return allow(LevelDJRole)
			}
		}
	}
	if djOn && dj.UserIDs.Contains(a.UserID) {
		return allow(LevelDJUser)
	}

	if req.Requester != "" && a.UserID == req.Requester {
		return allow(LevelRequester)
	}
	if len(req.Listeners) == 1 && req.Listeners[0] == a.UserID {
		return allow(LevelAlone)
	}

	return Decision{Level: LevelNone, Reason: denyReason(dj, djOn)}
}

func denyReason(dj *model.DJSettings, djOn bool) string {
	if !djOn {
		return "need admin or DJ"
	}
	var parts []string
	if dj.RoleID != "" {
		parts = append(parts, fmt.Sprintf("DJ role <@&%s>", dj.RoleID))
	}
	if len(dj.UserIDs) > 0 {
		mentions := make([]string, len(dj.UserIDs))
		for i, id := range dj.UserIDs {
			mentions[i] = "<@" + id + ">"
		}
		parts = append(parts, "DJ users "+strings.Join(mentions, ", "))
	}
	if len(parts) == 0 {
		return "DJ mode is on but no DJ role or user is configured; need admin"
	}
	return "requires " + strings.Join(parts, " or ")
}
