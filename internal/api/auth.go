package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const operatorContextKey = "OperatorID"

// OperatorClaims represents JWT claims for authenticated operators.
type OperatorClaims struct {
	Operator string `json:"op"`
	jwt.RegisteredClaims
}

func generateToken(operator, secret string, expiresAt time.Time) (string, error) {
	claims := OperatorClaims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*OperatorClaims); ok && token.Valid {
		return claims.Operator, nil
	}
	return "", errors.New("invalid token claims")
}

// AuthMiddleware enforces JWT auth for protected routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "missing Authorization header",
			})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "invalid Authorization header",
			})
			return
		}

		operator, err := parseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "invalid or expired token",
			})
			return
		}

		c.Set(operatorContextKey, operator)
		c.Next()
	}
}

// issueToken exchanges the configured operator key for a short-lived JWT.
func (s *Server) issueToken(c *gin.Context) {
	var req struct {
		Operator string `json:"operator"`
		Key      string `json:"key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request payload")
		return
	}

	if s.OperatorKey == "" ||
		subtle.ConstantTimeCompare([]byte(req.Key), []byte(s.OperatorKey)) != 1 {
		respondError(c, http.StatusUnauthorized, "invalid operator key")
		return
	}

	operator := strings.TrimSpace(req.Operator)
	if operator == "" {
		operator = "operator"
	}

	expiresAt := time.Now().Add(12 * time.Hour)
	token, err := generateToken(operator, s.JWTSecret, expiresAt)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to generate token")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}
