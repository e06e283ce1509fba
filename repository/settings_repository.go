package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

// MaxPrefixLength 命令前缀最大长度
const MaxPrefixLength = 8

// ErrInvalidPrefix 前缀为空、过长或包含空白
var ErrInvalidPrefix = errors.New("invalid prefix")

// SettingsRepository 服务器设置数据访问接口（DJ 设置与命令前缀）
type SettingsRepository interface {
	// DJ 设置
	Get(ctx context.Context, guildID string) (*model.DJSettings, error)
	Toggle(ctx context.Context, guildID string, enabled bool) (*model.DJSettings, error)
	SetRole(ctx context.Context, guildID, roleID string) (*model.DJSettings, error)
	AddUser(ctx context.Context, guildID, userID string) (*model.DJSettings, error)
	RemoveUser(ctx context.Context, guildID, userID string) (*model.DJSettings, error)
	Reset(ctx context.Context, guildID string) error

	// 命令前缀
	GetPrefix(ctx context.Context, guildID string) (string, error)
	SetPrefix(ctx context.Context, guildID, prefix string) error
	ResetPrefix(ctx context.Context, guildID string) error
}

// gormSettingsRepository GORM 实现
type gormSettingsRepository struct {
	db *gorm.DB
}

// NewGormSettingsRepository 创建 GORM 设置仓库
func NewGormSettingsRepository(db *gorm.DB) SettingsRepository {
	return &gormSettingsRepository{db: db}
}

// ========== DJ 设置 ==========

// Get 获取 DJ 设置，不存在时返回 nil
func (r *gormSettingsRepository) Get(ctx context.Context, guildID string) (*model.DJSettings, error) {
	var s model.DJSettings
	err := r.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// update 在事务内读-改-写一行设置，不存在时先按默认值创建
func (r *gormSettingsRepository) update(ctx context.Context, guildID string, fn func(*model.DJSettings)) (*model.DJSettings, error) {
	var out model.DJSettings
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("guild_id = ?", guildID).
			First(&out).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			out = model.DJSettings{GuildID: guildID, UserIDs: model.IDList{}}
		} else if err != nil {
			return err
		}
		fn(&out)
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("update dj settings for %s: %w", guildID, err)
	}
	return &out, nil
}

// Toggle 开启或关闭 DJ 模式
func (r *gormSettingsRepository) Toggle(ctx context.Context, guildID string, enabled bool) (*model.DJSettings, error) {
	return r.update(ctx, guildID, func(s *model.DJSettings) { s.Enabled = enabled })
}

// SetRole 设置 DJ 角色，传空字符串清除
func (r *gormSettingsRepository) SetRole(ctx context.Context, guildID, roleID string) (*model.DJSettings, error) {
	return r.update(ctx, guildID, func(s *model.DJSettings) { s.RoleID = roleID })
}

// AddUser 添加 DJ 用户（已存在则不变）
func (r *gormSettingsRepository) AddUser(ctx context.Context, guildID, userID string) (*model.DJSettings, error) {
	return r.update(ctx, guildID, func(s *model.DJSettings) {
		s.UserIDs = AddID(s.UserIDs, userID)
	})
}

// RemoveUser 移除 DJ 用户
func (r *gormSettingsRepository) RemoveUser(ctx context.Context, guildID, userID string) (*model.DJSettings, error) {
	return r.update(ctx, guildID, func(s *model.DJSettings) {
		s.UserIDs = RemoveID(s.UserIDs, userID)
	})
}

// Reset 删除该服务器的 DJ 设置
func (r *gormSettingsRepository) Reset(ctx context.Context, guildID string) error {
	return r.db.WithContext(ctx).Where("guild_id = ?", guildID).Delete(&model.DJSettings{}).Error
}

// ========== 命令前缀 ==========

// GetPrefix 获取自定义前缀，未设置时返回空字符串
func (r *gormSettingsRepository) GetPrefix(ctx context.Context, guildID string) (string, error) {
	var p model.GuildPrefix
	err := r.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return p.Prefix, nil
}

// SetPrefix 设置前缀（存在则覆盖）
func (r *gormSettingsRepository) SetPrefix(ctx context.Context, guildID, prefix string) error {
	prefix, err := NormalizePrefix(prefix)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"prefix", "updated_at"}),
	}).Create(&model.GuildPrefix{GuildID: guildID, Prefix: prefix}).Error
}

// ResetPrefix 恢复默认前缀
func (r *gormSettingsRepository) ResetPrefix(ctx context.Context, guildID string) error {
	return r.db.WithContext(ctx).Where("guild_id = ?", guildID).Delete(&model.GuildPrefix{}).Error
}

// ========== 辅助函数 ==========

// NormalizePrefix 去掉首尾空白并校验
func NormalizePrefix(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || len([]rune(prefix)) > MaxPrefixLength {
		return "", ErrInvalidPrefix
	}
	for _, r := range prefix {
		if unicode.IsSpace(r) {
			return "", ErrInvalidPrefix
		}
	}
	return prefix, nil
}

// AddID 追加 ID，已存在时原样返回
func AddID(list model.IDList, id string) model.IDList {
	if id == "" || list.Contains(id) {
		return list
	}
	return append(list, id)
}

// RemoveID 删除 ID
func RemoveID(list model.IDList, id string) model.IDList {
	out := make(model.IDList, 0, len(list))
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
