package auth

import (
	"fmt"
	"time"

	"github.com/falimentos/mariia/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

// GenerateJWT issues a token whose subject is the seller identifier
// (numeric SlpCode or display name). The subject becomes the scope input
// for every data access in the request.
func GenerateJWT(sellerID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": sellerID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour * 24).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

func ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})

	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		// An empty subject is an administrative (unscoped) token.
		sub, _ := claims["sub"].(string)
		return sub, nil
	}

	return "", fmt.Errorf("invalid token")
}
