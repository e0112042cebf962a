// Package auth owns the controller's RSA keypair, session JWTs, agent
// credential hashing, and the session-validation service consumed by the
// validate endpoint.
//
// The keypair signs RS256 session JWTs. The public half is pushed to Newt
// agents inside the auth-proxy config so they can verify tokens without a
// controller round-trip on the hot path.
package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	privateKeyFile = "jwt_private.pem"
	publicKeyFile  = "jwt_public.pem"
	rsaKeyBits     = 2048
)

// Keys holds the RSA keypair used to sign and verify session JWTs.
// Both PEMs are cached in memory after the first load; all reads after
// LoadOrCreate returns are lock-free.
type Keys struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	privatePEM []byte
	publicPEM  []byte
}

// LoadOrCreate ensures an RSA-2048 keypair exists under dir and loads it.
// If either PEM file is missing, both are regenerated: jwt_private.pem
// (PKCS#8, mode 0600) and jwt_public.pem (SPKI, mode 0644).
func LoadOrCreate(dir string, logger *slog.Logger) (*Keys, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("auth: create key directory: %w", err)
	}

	privPath := filepath.Join(dir, privateKeyFile)
	pubPath := filepath.Join(dir, publicKeyFile)

	privPEM, privErr := os.ReadFile(privPath) //nolint:gosec // path comes from validated config, not user input
	pubPEM, pubErr := os.ReadFile(pubPath)    //nolint:gosec // same as above
	if privErr != nil || pubErr != nil {
		logger.Info("auth: generating session JWT keypair", "dir", dir)
		return generate(privPath, pubPath)
	}

	keys, err := parse(privPEM, pubPEM)
	if err != nil {
		// Corrupt files are treated like missing files.
		logger.Warn("auth: stored keypair unreadable, regenerating", "error", err)
		return generate(privPath, pubPath)
	}
	return keys, nil
}

func generate(privPath, pubPath string) (*Keys, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("auth: generate RSA key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("auth: marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("auth: marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return nil, fmt.Errorf("auth: write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil { //nolint:gosec // the public key is public
		return nil, fmt.Errorf("auth: write public key: %w", err)
	}

	return &Keys{
		privateKey: key,
		publicKey:  &key.PublicKey,
		privatePEM: privPEM,
		publicPEM:  pubPEM,
	}, nil
}

func parse(privPEM, pubPEM []byte) (*Keys, error) {
	privBlock, _ := pem.Decode(privPEM)
	if privBlock == nil {
		return nil, fmt.Errorf("auth: decode private key PEM")
	}
	privAny, err := x509.ParsePKCS8PrivateKey(privBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	privKey, ok := privAny.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("auth: private key is not RSA")
	}

	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, fmt.Errorf("auth: decode public key PEM")
	}
	pubAny, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	pubKey, ok := pubAny.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: public key is not RSA")
	}

	// Catch a private key deployed with a public key from another environment.
	if pubKey.N.Cmp(privKey.PublicKey.N) != 0 || pubKey.E != privKey.PublicKey.E {
		return nil, fmt.Errorf("auth: public key does not match private key")
	}

	return &Keys{
		privateKey: privKey,
		publicKey:  pubKey,
		privatePEM: privPEM,
		publicPEM:  pubPEM,
	}, nil
}

// PublicKeyPEM returns the cached public key in SPKI PEM form.
func (k *Keys) PublicKeyPEM() string {
	return string(k.publicPEM)
}
