package voximplant

import (
	"crypto/rsa"

	"github.com/golang-jwt/jwt/v5"
)

// rsaPrivateKeyHolder wraps the parsed key so jwt.go doesn't need to import
// crypto/rsa directly in its exported surface.
type rsaPrivateKeyHolder struct {
	key *rsa.PrivateKey
}

func parseRSAPrivateKey(pemData string) (*rsaPrivateKeyHolder, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemData))
	if err != nil {
		return nil, err
	}
	return &rsaPrivateKeyHolder{key: key}, nil
}
