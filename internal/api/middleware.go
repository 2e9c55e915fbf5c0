package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	operatorKey = "operator"
	isAdminKey  = "is_admin"
)

// jwtMiddleware проверяет JWT токен в заголовке Authorization
func (rs *RestServer) jwtMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respondError(c, http.StatusUnauthorized, "Отсутствует токен авторизации")
			c.Abort()
			return
		}

		// Проверяем формат "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			respondError(c, http.StatusUnauthorized, "Неверный формат токена")
			c.Abort()
			return
		}

		claims, err := rs.issuer.Validate(parts[1])
		if err != nil {
			rs.logger.Debug("Отклонён токен: %v", err)
			respondError(c, http.StatusUnauthorized, "Недействительный токен")
			c.Abort()
			return
		}

		c.Set(operatorKey, claims.Operator)
		c.Set(isAdminKey, claims.IsAdmin)
		c.Next()
	}
}

// adminMiddleware проверяет, что оператор является администратором
func (rs *RestServer) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(isAdminKey) {
			respondError(c, http.StatusForbidden, "Недостаточно прав доступа")
			c.Abort()
			return
		}
		c.Next()
	}
}
