package middleware

import (
	"errors"
	"net/http"
	"strings"

	"ecoswap/pkg"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

const accountIDKey = "accountID"

// Claims are issued by the external identity provider. Only the account
// binding is read here.
type Claims struct {
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}

var errMissingAccount = errors.New("token has no account_id claim")

// JWTAuthMiddleware rejects requests without a valid HS256 bearer token and
// stores the token's account id in the gin context.
func JWTAuthMiddleware(secret string, log pkg.Logger) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"errors": "Authorization header missing"})
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return key, nil
		})
		if err == nil && claims.AccountID == "" {
			err = errMissingAccount
		}
		if err != nil || !token.Valid {
			log.Warn("Invalid JWT token", zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"errors": "Invalid token"})
			return
		}

		c.Set(accountIDKey, claims.AccountID)
		c.Next()
	}
}

// AuthenticatedAccount returns the account id bound to the request's token.
func AuthenticatedAccount(c *gin.Context) (string, bool) {
	return c.GetString(accountIDKey), c.GetString(accountIDKey) != ""
}

// Authorized reports whether the caller may act on accountID. Requests that
// did not pass through JWTAuthMiddleware are always authorized.
func Authorized(c *gin.Context, accountID string) bool {
	bound, ok := AuthenticatedAccount(c)
	return !ok || bound == accountID
}
