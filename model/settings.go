package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// IDList 自定义类型用于 GORM JSON 字段的自动扫描
type IDList []string

// Scan 实现 sql.Scanner 接口
func (l *IDList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*l = nil
		return nil
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*l = nil
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// Value 实现 driver.Valuer 接口
func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Contains 判断列表中是否存在该 ID
func (l IDList) Contains(id string) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

// DJSettings 服务器 DJ 设置
type DJSettings struct {
	GuildID   string    `json:"guildId" gorm:"primaryKey;size:32"`
	Enabled   bool      `json:"enabled" gorm:"default:false"`
	RoleID    string    `json:"roleId,omitempty" gorm:"size:32"`
	UserIDs   IDList    `json:"userIds" gorm:"type:json"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (DJSettings) TableName() string {
	return "dj_settings"
}

// GuildPrefix 服务器命令前缀
type GuildPrefix struct {
	GuildID   string    `json:"guildId" gorm:"primaryKey;size:32"`
	Prefix    string    `json:"prefix" gorm:"size:8;not null"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (GuildPrefix) TableName() string {
	return "guild_prefixes"
}
