package domain

import (
	"strconv"
	"time"
)

type Role string

const (
	RoleOwner    Role = "owner"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"fullName"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	Version      int32     `json:"-"`
}

// ActorType 表示触发某次变更的主体
type ActorType string

const (
	ActorWorker  ActorType = "worker"
	ActorManager ActorType = "manager"
	ActorOwner   ActorType = "owner"
	ActorSystem  ActorType = "system"
)

type Actor struct {
	ID   int64     `json:"id"` // 系统触发时为 0
	Type ActorType `json:"type"`
}

var SystemActor = Actor{ID: 0, Type: ActorSystem}

func (a Actor) IsSystem() bool {
	return a.Type == ActorSystem
}

// ActorTypeFromRole 将地点上的成员角色映射为变更主体类型
func ActorTypeFromRole(role Role) ActorType {
	switch role {
	case RoleOwner:
		return ActorOwner
	case RoleManager:
		return ActorManager
	default:
		return ActorWorker
	}
}

// ViewerScope 描述读请求的可见范围，不同角色共用同一套查询
type ViewerScope struct {
	UserID int64 `json:"userID"`
	Role   Role  `json:"role"`
}

func (v ViewerScope) CanSeeOthers() bool {
	return v.Role == RoleOwner || v.Role == RoleManager
}

func (v ViewerScope) String() string {
	return string(v.Role) + ":" + strconv.FormatInt(v.UserID, 10)
}
