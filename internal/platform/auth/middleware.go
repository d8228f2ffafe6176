package auth

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	CtxUserIDKey   = "user_id"
	CtxRoleKey     = "role"
	CtxIdentityKey = "identity"
)

// RequireAuth: Authorization: Bearer <token> を検証して context に Identity を詰める。
// role / approved はトークンではなくアカウントの現在値を使う（削除・承認が即時に効く）
func RequireAuth(secret []byte, accounts AccountStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}

		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
			return
		}

		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claimed, err := ParseToken(secret, tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		acc, err := accounts.GetByID(c.Request.Context(), claimed.UserID)
		if err != nil {
			log.Printf("[ERROR] account lookup %s: %v", claimed.UserID, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if acc == nil || acc.IsDisabled {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account not found or disabled"})
			return
		}
		id := acc.Identity()

		c.Set(CtxUserIDKey, id.UserID)
		c.Set(CtxRoleKey, string(id.Role))
		c.Set(CtxIdentityKey, id)
		c.Next()
	}
}

// ParseToken: 署名と exp を検証して Identity を取り出す
func ParseToken(secret []byte, tokenStr string) (Identity, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		// alg 固定（none攻撃とか回避）
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || token == nil || !token.Valid {
		return Identity{}, errInvalidToken("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errInvalidToken("invalid claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Identity{}, errInvalidToken("invalid sub")
	}
	roleStr, _ := claims["role"].(string)
	role, err := ParseRole(roleStr)
	if err != nil {
		return Identity{}, errInvalidToken("invalid role")
	}
	approved, _ := claims["approved"].(bool)

	return Identity{UserID: sub, Role: role, IsApproved: approved}, nil
}

type errInvalidToken string

func (e errInvalidToken) Error() string { return string(e) }

// IdentityFrom: RequireAuth を通っていなければゼロ値（どの権限も持たない）
func IdentityFrom(c *gin.Context) Identity {
	v, ok := c.Get(CtxIdentityKey)
	if !ok {
		return Identity{}
	}
	id, _ := v.(Identity)
	return id
}

// RequireCapability: ルート単位の入口チェック。最終判定はサービス側でも行う
func RequireCapability(want Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := IdentityFrom(c).Authorize(want)
		if !d.Allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{"code": "FORBIDDEN", "message": d.Reason},
			})
			return
		}
		c.Next()
	}
}
