package handler

type ContextKey string

var (
	RoleCtxKey   ContextKey = "role"
	UserIDCtxKey ContextKey = "userID"
	MyInfoCtx    ContextKey = "myInfo"
)
