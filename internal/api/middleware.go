package api

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/entraide-ong/backoffice/internal/auth"
)

// JWTAuth verifies the staff token and stores the claims in locals. Only
// staff roles get past.
func JWTAuth(verifier *auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		tokenStr := ""
		if strings.HasPrefix(header, "Bearer ") {
			tokenStr = strings.TrimPrefix(header, "Bearer ")
		} else {
			// websocket clients pass the token as a query parameter
			tokenStr = c.Query("token")
		}
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization"})
		}
		claims, err := verifier.Verify(tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}
		if !auth.IsStaff(claims.Role) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "staff only"})
		}
		c.Locals("claims", claims)
		return c.Next()
	}
}

// RequireRole gates a route on one exact role.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := c.Locals("claims").(*auth.Claims)
		if claims.Role != role {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "insufficient role"})
		}
		return c.Next()
	}
}

// UserRateLimiter throttles message sends per authenticated user.
type UserRateLimiter struct {
	users sync.Map
	rps   rate.Limit
	burst int
	log   *zap.SugaredLogger
}

type userLimiter struct {
	limiter *rate.Limiter
	// unix nanos; written by every request for the user, read by cleanup
	lastSeen atomic.Int64
}

func NewUserRateLimiter(perMinute int, log *zap.SugaredLogger) *UserRateLimiter {
	l := &UserRateLimiter{
		rps:   rate.Limit(float64(perMinute) / 60.0),
		burst: 5,
		log:   log,
	}
	go l.cleanup()
	return l
}

// Allow reports whether the user may send now.
func (l *UserRateLimiter) Allow(userID string) bool {
	v, ok := l.users.Load(userID)
	if !ok {
		v, _ = l.users.LoadOrStore(userID, &userLimiter{
			limiter: rate.NewLimiter(l.rps, l.burst),
		})
	}
	ul := v.(*userLimiter)
	ul.lastSeen.Store(time.Now().UnixNano())
	return ul.limiter.Allow()
}

func (l *UserRateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := c.Locals("claims").(*auth.Claims)
		if !l.Allow(claims.UserID) {
			l.log.Warnw("rate limit exceeded", "user", claims.UserID, "path", c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
		}
		return c.Next()
	}
}

func (l *UserRateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		cutoff := time.Now().Add(-5 * time.Minute).UnixNano()
		l.users.Range(func(k, v interface{}) bool {
			if v.(*userLimiter).lastSeen.Load() < cutoff {
				l.users.Delete(k)
			}
			return true
		})
	}
}
