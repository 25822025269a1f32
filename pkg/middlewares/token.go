package middlewares

import (
	"strings"

	"chat_stream_service/pkg/token"

	"github.com/gofiber/fiber/v2"
)

const (
	//QueryToken token in query name
	QueryToken = "auth"

	//CookieToken token in cookie name
	CookieToken = "auth_token"

	//TokenProfileID profile id from token, set c.locals name
	TokenProfileID = "ProfileID"
	//TokenUsername username from token, set c.locals name
	TokenUsername = "Username"
)

// JWTMiddleware validates JWT from query, cookie or Authorization header
func JWTMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := c.Query(QueryToken)

		// 如果查詢參數中沒有 token，則嘗試從 Cookie 中獲取
		if tokenStr == "" {
			tokenStr = c.Cookies(CookieToken)
		}
		if tokenStr == "" {
			tokenStr = strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		}

		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing token",
			})
		}

		claims, err := token.ParseJWT(tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals(TokenProfileID, claims.ProfileID)
		c.Locals(TokenUsername, claims.Username)

		return c.Next()
	}
}

// ProfileID read the authenticated profile id
func ProfileID(c *fiber.Ctx) string {
	v, _ := c.Locals(TokenProfileID).(string)
	return v
}

// Username read the authenticated username
func Username(c *fiber.Ctx) string {
	v, _ := c.Locals(TokenUsername).(string)
	return v
}
