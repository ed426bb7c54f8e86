package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/3Eeeecho/go-docstore/internal/config"
	"github.com/3Eeeecho/go-docstore/internal/pkg/utils"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/services/access"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware 校验身份服务签发的 Bearer Token，并把 access.Actor 放进上下文
func AuthMiddleware(cfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.UnauthorizedCode, "Authorization header is required")
			return
		}

		// Token 格式通常是 "Bearer <token>"
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.UnauthorizedCode, "Invalid Authorization header format")
			return
		}

		claims, err := utils.ParseToken(parts[1], cfg.SecretKey, cfg.Issuer)
		if err != nil {
			if errors.Is(err, utils.ErrTokenExpired) {
				xerr.AbortWithError(c, http.StatusUnauthorized, xerr.TokenInvalidCode, "Token expired")
				return
			}
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.TokenInvalidCode, "Invalid or malformed token")
			return
		}

		utils.SetActor(c, access.Actor{
			UserID:       claims.UserID,
			DepartmentID: claims.DepartmentID,
			Roles:        access.NewRoleSet(claims.Capabilities...),
		})
		c.Next()
	}
}
