package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/pkg/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func createTestConfig(jwtSecret string) *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Secret:      jwtSecret,
			ExpiryHours: 1,
			Issuer:      "paradym-wallet",
		},
	}
}

func createExpiredToken(secret, deviceID, walletID string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"device_id": deviceID,
		"wallet_id": walletID,
		"exp":       time.Now().Add(-time.Hour).Unix(),
	})
	tokenString, _ := token.SignedString([]byte(secret))
	return tokenString
}

func authRouter(cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.Use(DeviceAuthMiddleware(cfg, zap.NewNop()))
	router.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"device_id": c.GetString("device_id"),
			"wallet_id": c.GetString("wallet_id"),
		})
	})
	return router
}

func TestMintAndValidateDeviceToken(t *testing.T) {
	cfg := createTestConfig("test-secret")

	token, err := MintDeviceToken(cfg, "device-1", "wallet-1")
	if err != nil {
		t.Fatalf("MintDeviceToken() error = %v", err)
	}

	deviceID, walletID, err := ValidateDeviceToken(cfg, token)
	if err != nil {
		t.Fatalf("ValidateDeviceToken() error = %v", err)
	}
	if deviceID != "device-1" {
		t.Errorf("deviceID = %q, want %q", deviceID, "device-1")
	}
	if walletID != "wallet-1" {
		t.Errorf("walletID = %q, want %q", walletID, "wallet-1")
	}
}

func TestValidateDeviceToken_WrongSecret(t *testing.T) {
	token, err := MintDeviceToken(createTestConfig("secret-a"), "device-1", "wallet-1")
	if err != nil {
		t.Fatalf("MintDeviceToken() error = %v", err)
	}

	_, _, err = ValidateDeviceToken(createTestConfig("secret-b"), token)
	if err == nil {
		t.Error("ValidateDeviceToken() should reject a token signed with a different secret")
	}
}

func TestValidateDeviceToken_Expired(t *testing.T) {
	cfg := createTestConfig("test-secret")
	token := createExpiredToken("test-secret", "device-1", "wallet-1")

	_, _, err := ValidateDeviceToken(cfg, token)
	if err == nil {
		t.Error("ValidateDeviceToken() should reject an expired token")
	}
}

func TestValidateDeviceToken_MissingClaims(t *testing.T) {
	cfg := createTestConfig("test-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tokenString, _ := token.SignedString([]byte("test-secret"))

	_, _, err := ValidateDeviceToken(cfg, tokenString)
	if err == nil {
		t.Error("ValidateDeviceToken() should reject a token without device claims")
	}
}

func TestDeviceAuthMiddleware(t *testing.T) {
	cfg := createTestConfig("test-secret")
	router := authRouter(cfg)

	token, err := MintDeviceToken(cfg, "device-1", "wallet-1")
	if err != nil {
		t.Fatalf("MintDeviceToken() error = %v", err)
	}

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{
			name:       "valid token",
			authHeader: "Bearer " + token,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing header",
			authHeader: "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed header",
			authHeader: "Token " + token,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "empty token",
			authHeader: "Bearer ",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "garbage token",
			authHeader: "Bearer not-a-jwt",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired token",
			authHeader: "Bearer " + createExpiredToken("test-secret", "device-1", "wallet-1"),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestDeviceAuthMiddleware_SetsIdentity(t *testing.T) {
	cfg := createTestConfig("test-secret")

	var gotDevice, gotWallet string
	router := gin.New()
	router.Use(DeviceAuthMiddleware(cfg, zap.NewNop()))
	router.GET("/protected", func(c *gin.Context) {
		gotDevice = c.GetString("device_id")
		gotWallet = c.GetString("wallet_id")
		c.Status(http.StatusOK)
	})

	token, err := MintDeviceToken(cfg, "device-9", "wallet-9")
	if err != nil {
		t.Fatalf("MintDeviceToken() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotDevice != "device-9" {
		t.Errorf("device_id = %q, want %q", gotDevice, "device-9")
	}
	if gotWallet != "wallet-9" {
		t.Errorf("wallet_id = %q, want %q", gotWallet, "wallet-9")
	}
}
