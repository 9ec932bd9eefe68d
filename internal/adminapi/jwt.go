package adminapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// claims identifies an operator bearer token. Tokens carry no per-user
// identity beyond a subject, since the admin surface has a single
// "operator" role rather than the teacher's full user/role model.
type claims struct {
	jwt.RegisteredClaims
}

func signOperatorToken(secret []byte, subject string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	})
	return token.SignedString(secret)
}

func verifyOperatorToken(secret []byte, raw string) (*claims, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(raw, c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("adminapi: unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("adminapi: invalid or expired token")
	}
	return c, nil
}

var errMissingBearer = errors.New("adminapi: missing bearer token")

func parseBearer(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errMissingBearer
	}
	return strings.TrimPrefix(header, prefix), nil
}

// requireAuth gates the routes it is attached to behind a valid operator
// bearer token signed with the configured secret. Router leaves /healthz
// and /metrics outside it.
func requireAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := parseBearer(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if _, err := verifyOperatorToken(secret, raw); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Next()
	}
}
