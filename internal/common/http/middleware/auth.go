package middleware

import (
	"context"
	"strconv"
	"strings"

	pkgerrors "techfolks/pkg/errors"
	"techfolks/pkg/utils/contextkey"
	"techfolks/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userIDContextKey = "user_id"

// AuthMiddleware validates a bearer JWT (HS256) and extracts the user id
// from the subject claim. User management itself lives outside this
// service; only token verification happens here.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "missing bearer token")
			return
		}

		userID, err := parseUserID(token, secret)
		if err != nil {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "invalid token")
			return
		}

		c.Set(userIDContextKey, userID)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UserID returns the authenticated user id set by AuthMiddleware.
func UserID(c *gin.Context) (int64, bool) {
	value, exists := c.Get(userIDContextKey)
	if !exists {
		return 0, false
	}
	id, ok := value.(int64)
	return id, ok
}

func parseUserID(token, secret string) (int64, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, pkgerrors.New(pkgerrors.Unauthorized).WithMessage("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return 0, err
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil {
		return 0, err
	}
	userID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.Unauthorized).WithMessage("invalid subject claim")
	}
	return userID, nil
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
