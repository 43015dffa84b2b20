package middleware

import (
	"strings"
	"time"

	"halaqat_go/access"
	"halaqat_go/models"
	"halaqat_go/services"
	"halaqat_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type Claims struct {
	UserID   uint        `json:"user_id"`
	Username string      `json:"username"`
	Role     access.Role `json:"role"`
	CenterID *uint       `json:"center_id,omitempty"`
	jwt.RegisteredClaims
}

// Auth issues and checks bearer tokens.
type Auth struct {
	secret   []byte
	ttl      time.Duration
	db       *gorm.DB
	accounts *services.AccountService
}

func NewAuth(secret string, ttl time.Duration, db *gorm.DB, accounts *services.AccountService) *Auth {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Auth{secret: []byte(secret), ttl: ttl, db: db, accounts: accounts}
}

func (a *Auth) TTL() time.Duration { return a.ttl }

// GenerateToken creates a new JWT token for a user
func (a *Auth) GenerateToken(user *models.User) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(a.ttl)
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		CenterID: user.CenterID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	return token, expires, err
}

// ParseToken validates signature, expiry and the logout blacklist.
func (a *Auth) ParseToken(c *fiber.Ctx, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if a.accounts.Revoked(c.UserContext(), tokenString) {
		return nil, errors.New("token was revoked")
	}
	return claims, nil
}

// Authenticate resolves a token to an active user and the actor it acts as.
func (a *Auth) Authenticate(c *fiber.Ctx, tokenString string) (*models.User, access.Actor, *Claims, error) {
	claims, err := a.ParseToken(c, tokenString)
	if err != nil {
		return nil, access.Actor{}, nil, err
	}
	user, err := a.accounts.Active(claims.UserID)
	if err != nil {
		return nil, access.Actor{}, nil, err
	}
	actor, err := services.ActorFor(a.db, user)
	if err != nil {
		return nil, access.Actor{}, nil, err
	}
	return user, actor, claims, nil
}

func bearer(c *fiber.Ctx) string {
	h := c.Get("Authorization")
	token := strings.TrimPrefix(h, "Bearer ")
	if token == h {
		return ""
	}
	return strings.TrimSpace(token)
}

// JWTMiddleware validates JWT tokens
func (a *Auth) JWTMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearer(c)
		if token == "" {
			return utils.Fail(c, fiber.StatusUnauthorized, "unauthorized", "missing or malformed authorization header", nil)
		}
		user, actor, claims, err := a.Authenticate(c, token)
		if err != nil {
			return utils.Fail(c, fiber.StatusUnauthorized, "unauthorized", "invalid token or inactive account", nil)
		}
		c.Locals("user", user)
		c.Locals("claims", claims)
		c.Locals("actor", actor)
		c.Locals("token", token)
		return c.Next()
	}
}

// RequireCapability lets the request through when the actor holds any of caps.
func RequireCapability(caps ...access.Capability) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := c.Locals("actor").(access.Actor)
		if !ok {
			return utils.Fail(c, fiber.StatusUnauthorized, "unauthorized", "missing user claims", nil)
		}
		for _, want := range caps {
			if actor.Can(want) {
				return c.Next()
			}
		}
		return utils.Fail(c, fiber.StatusForbidden, "forbidden", "insufficient permissions", nil)
	}
}

// RequireRole middleware checks if user has required role
func RequireRole(roles ...access.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := c.Locals("actor").(access.Actor)
		if !ok {
			return utils.Fail(c, fiber.StatusUnauthorized, "unauthorized", "missing user claims", nil)
		}
		for _, role := range roles {
			if actor.Role == role {
				return c.Next()
			}
		}
		return utils.Fail(c, fiber.StatusForbidden, "forbidden", "insufficient permissions", nil)
	}
}

// GetActor returns the actor of the authenticated request.
func GetActor(c *fiber.Ctx) access.Actor {
	actor, _ := c.Locals("actor").(access.Actor)
	return actor
}

// GetCurrentUser returns the current authenticated user
func GetCurrentUser(c *fiber.Ctx) (*models.User, error) {
	user, ok := c.Locals("user").(*models.User)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "User not found in context")
	}
	return user, nil
}

// GetCurrentClaims returns the current JWT claims
func GetCurrentClaims(c *fiber.Ctx) (*Claims, error) {
	claims, ok := c.Locals("claims").(*Claims)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Claims not found in context")
	}
	return claims, nil
}

// CurrentToken returns the raw bearer token of the request.
func CurrentToken(c *fiber.Ctx) string {
	token, _ := c.Locals("token").(string)
	return token
}
