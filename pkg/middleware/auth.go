package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/pkg/config"
)

var ErrInvalidToken = errors.New("invalid device token")

// MintDeviceToken issues the bearer token a paired device uses for the REST
// API and the session handshake
func MintDeviceToken(cfg *config.Config, deviceID, walletID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"device_id": deviceID,
		"wallet_id": walletID,
		"iat":       now.Unix(),
		"exp":       now.Add(time.Duration(cfg.JWT.ExpiryHours) * time.Hour).Unix(),
		"iss":       cfg.JWT.Issuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWT.Secret))
}

// ValidateDeviceToken verifies a device token and returns its subject
func ValidateDeviceToken(cfg *config.Config, tokenString string) (deviceID, walletID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.JWT.Secret), nil
	})
	if err != nil || !token.Valid {
		return "", "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrInvalidToken
	}

	deviceID, ok = claims["device_id"].(string)
	if !ok || deviceID == "" {
		return "", "", ErrInvalidToken
	}
	walletID, ok = claims["wallet_id"].(string)
	if !ok || walletID == "" {
		return "", "", ErrInvalidToken
	}

	return deviceID, walletID, nil
}

// DeviceAuthMiddleware validates the device bearer token and sets the device
// and wallet identity on the request context
func DeviceAuthMiddleware(cfg *config.Config, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(401, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(401, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			c.JSON(401, gin.H{"error": "Token required"})
			c.Abort()
			return
		}

		deviceID, walletID, err := ValidateDeviceToken(cfg, tokenString)
		if err != nil {
			logger.Warn("Rejected device token", zap.Error(err))
			c.JSON(401, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set("device_id", deviceID)
		c.Set("wallet_id", walletID)
		c.Set("token", tokenString)

		c.Next()
	}
}

// Logger returns a gin middleware for request logging
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
