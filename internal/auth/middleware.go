package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/flybeeper/region-heatmap/pkg/utils"
)

const tokenContextKey = "bearer_token"

// Middleware извлекает bearer-токен пользователя карты.
// Токен не проверяется здесь: его проверяет бэкенд аналитики при каждом запросе,
// а отказ (401/403) доставляется через Session.
type Middleware struct {
	logger *utils.Logger
}

// NewMiddleware создает новый middleware аутентификации
func NewMiddleware(logger *utils.Logger) *Middleware {
	return &Middleware{logger: logger}
}

// RequireToken требует наличие токена в запросе
func (m *Middleware) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			m.logger.WithField("ip", c.ClientIP()).Warn("Missing authentication token")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authentication token",
				"code":  "MISSING_TOKEN",
			})
			c.Abort()
			return
		}

		c.Set(tokenContextKey, token)

		m.logger.WithFields(map[string]interface{}{
			"token_prefix": token[:min(10, len(token))],
			"method":       c.Request.Method,
			"path":         c.Request.URL.Path,
			"ip":           c.ClientIP(),
		}).Debug("Token attached to request")

		c.Next()
	}
}

// ExtractToken извлекает токен из запроса (header, query parameter или cookie)
func ExtractToken(c *gin.Context) string {
	// 1. Проверяем Authorization header
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	// 2. Проверяем query parameter (websocket из браузера не умеет заголовки)
	if token := c.Query("token"); token != "" {
		return token
	}

	// 3. Проверяем cookie
	if token, err := c.Cookie("token"); err == nil && token != "" {
		return token
	}

	return ""
}

// GetToken возвращает токен, сохраненный RequireToken
func GetToken(c *gin.Context) (string, bool) {
	if v, exists := c.Get(tokenContextKey); exists {
		if token, ok := v.(string); ok {
			return token, true
		}
	}
	return "", false
}
