package utils

import (
	"net/http"

	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/services/access"
	"github.com/gin-gonic/gin"
)

const actorContextKey = "actor"

// SetActor 由认证中间件调用
func SetActor(c *gin.Context, actor access.Actor) {
	c.Set(actorContextKey, actor)
	c.Set("userID", actor.UserID)
}

// GetActorFromContext 从 Gin 上下文中获取当前操作者
// 如果获取失败或类型不正确，会中止请求并返回错误
func GetActorFromContext(c *gin.Context) (access.Actor, bool) {
	v, exists := c.Get(actorContextKey)
	if !exists {
		xerr.AbortWithError(c, http.StatusUnauthorized, xerr.UnauthorizedCode, "actor not found in context")
		return access.Actor{}, false
	}
	actor, ok := v.(access.Actor)
	if !ok {
		xerr.AbortWithError(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "invalid actor type in context")
		return access.Actor{}, false
	}
	return actor, true
}
