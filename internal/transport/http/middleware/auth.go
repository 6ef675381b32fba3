package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	LocalUserID      = "userId"
	LocalIsActivated = "isActivated"
	LocalRole        = "role"

	RoleAdmin = "admin"
)

// Claims mirrors the access token issued by the auth service.
type Claims struct {
	UserID      int64  `json:"user_id"`
	IsActivated bool   `json:"is_activated"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == 0 {
		return nil, errors.New("token has no user")
	}

	return claims, nil
}

func NewAuthMiddleware(secret string) fiber.Handler {
	key := []byte(secret)

	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: missed header"})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: Invalid header format"})
		}

		claims, err := ParseToken(parts[1], key)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: Invalid token"})
		}

		c.Locals(LocalUserID, claims.UserID)
		c.Locals(LocalIsActivated, claims.IsActivated)
		c.Locals(LocalRole, claims.Role)
		return c.Next()
	}
}

func NewIsActivatedMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals(LocalUserID).(int64)
		if !ok || userID == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: missed user"})
		}

		isActivated, ok := c.Locals(LocalIsActivated).(bool)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Internal error: auth flow violation"})
		}

		if !isActivated {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Account not activated",
				"code":  "EMAIL_NOT_VERIFIED",
			})
		}

		return c.Next()
	}
}

func NewAdminMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if role, _ := c.Locals(LocalRole).(string); role != RoleAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden: admin only"})
		}

		return c.Next()
	}
}
