package middlewares

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/utils"
)

// Session is what the login service stores under Session:<token>.
type Session struct {
	BusinessId string `json:"business_id"`
	UserId     int    `json:"user_id"`
	UserName   string `json:"user_name"`
}

const (
	headerToken         = "token"
	headerBusinessId    = "business_id"
	headerUserId        = "user_id"
	headerUserName      = "user_name"
	headerCorrelationId = "X-Correlation-Id"
)

// SessionMiddleware resolves the token header to a business and user. Without redis
// (local runs and tests) the business_id/user_id/user_name headers are trusted instead.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = utils.SetCorrelationIdInContext(ctx, correlationIdFrom(c))

		token := c.Request.Header.Get(headerToken)
		var session Session
		if token != "" && config.GetRedisDB() != nil {
			exists, err := config.GetRedisObject(ctx, "Session:"+token, &session)
			if err != nil || !exists {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
			ctx = utils.SetTokenInContext(ctx, token)
		} else if config.GetRedisDB() == nil {
			session.BusinessId = strings.TrimSpace(c.Request.Header.Get(headerBusinessId))
			session.UserId, _ = strconv.Atoi(c.Request.Header.Get(headerUserId))
			session.UserName = c.Request.Header.Get(headerUserName)
		}

		if session.BusinessId != "" {
			ctx = utils.SetBusinessIdInContext(ctx, session.BusinessId)
			ctx = utils.SetUserIdInContext(ctx, session.UserId)
			ctx = utils.SetUserNameInContext(ctx, session.UserName)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireBusiness rejects requests without a resolved business.
func RequireBusiness() gin.HandlerFunc {
	return func(c *gin.Context) {
		if businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context()); !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func correlationIdFrom(c *gin.Context) string {
	if v := strings.TrimSpace(c.Request.Header.Get(headerCorrelationId)); v != "" {
		return v
	}
	return utils.CorrelationIdOrNew(c.Request.Context())
}
