package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/spf13/cobra"

	"Huddle/internal/api/middleware"
)

// devtoken mints bearer tokens for local development.
//
// Usage:
//
//	go run ./cmd/devtoken --sub alice --name "Alice"
//	go run ./cmd/devtoken keys --save
//
// The first form signs an HS256 token with AUTH_HS256_SECRET. The keys subcommand
// generates an ES256 keypair: serve the public JWKS at AUTH_JWKS_URL and sign tokens
// with the private key.
func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type tokenFlags struct {
	sub     string
	name    string
	picture string
	email   string
	issuer  string
	keyFile string
	ttl     time.Duration
}

func newRootCommand() *cobra.Command {
	var f tokenFlags
	cmd := &cobra.Command{
		Use:           "devtoken",
		Short:         "Mint development bearer tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := mint(f)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.sub, "sub", "dev-user", "User id (sub claim)")
	cmd.Flags().StringVar(&f.name, "name", "", "Display name")
	cmd.Flags().StringVar(&f.picture, "picture", "", "Avatar URL")
	cmd.Flags().StringVar(&f.email, "email", "", "Email")
	cmd.Flags().StringVar(&f.issuer, "iss", "", "Issuer; defaults to AUTH_ISSUER")
	cmd.Flags().StringVar(&f.keyFile, "key", "", "Private JWK file; signs ES256 instead of HS256")
	cmd.Flags().DurationVar(&f.ttl, "ttl", time.Hour, "Token lifetime")

	cmd.AddCommand(newKeysCommand())
	return cmd
}

func mint(f tokenFlags) (string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to load .env: %w", err)
	}
	if f.sub == "" {
		return "", errors.New("--sub is required")
	}
	issuer := f.issuer
	if issuer == "" {
		issuer = os.Getenv("AUTH_ISSUER")
	}

	now := time.Now()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   f.sub,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(f.ttl)),
		},
		Name:    f.name,
		Picture: f.picture,
		Email:   f.email,
	}

	if f.keyFile == "" {
		secret := os.Getenv("AUTH_HS256_SECRET")
		if secret == "" {
			return "", errors.New("AUTH_HS256_SECRET is not set (or pass --key)")
		}
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	}

	keyBytes, err := os.ReadFile(f.keyFile)
	if err != nil {
		return "", fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := jwk.ParseKey(keyBytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse JWK: %w", err)
	}
	var raw interface{}
	if err := key.Raw(&raw); err != nil {
		return "", fmt.Errorf("failed to decode JWK: %w", err)
	}
	priv, ok := raw.(*ecdsa.PrivateKey)
	if !ok {
		return "", fmt.Errorf("key is not an ES256 private key")
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = key.KeyID()
	return tok.SignedString(priv)
}

func newKeysCommand() *cobra.Command {
	var save bool
	var kid string
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate an ES256 keypair as JWK",
		RunE: func(cmd *cobra.Command, _ []string) error {
			privateJSON, publicJSON, err := generateKeys(kid)
			if err != nil {
				return err
			}

			fmt.Println("Private key (keep secret, pass with --key):")
			fmt.Println(string(privateJSON))
			fmt.Println("\nPublic JWKS (serve at AUTH_JWKS_URL):")
			fmt.Println(string(publicJSON))

			if save {
				if err := os.WriteFile("dev-private-key.json", privateJSON, 0o600); err != nil {
					return fmt.Errorf("failed to write key file: %w", err)
				}
				if err := os.WriteFile("dev-jwks.json", publicJSON, 0o644); err != nil {
					return fmt.Errorf("failed to write jwks file: %w", err)
				}
				fmt.Println("\nSaved dev-private-key.json and dev-jwks.json (do not commit them)")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Also write the keys to the current directory")
	cmd.Flags().StringVar(&kid, "kid", "dev-key", "Key id")
	return cmd
}

func generateKeys(kid string) (privateJSON, publicJSON []byte, err error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	key, err := jwk.FromRaw(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create JWK from private key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, nil, fmt.Errorf("failed to set kid: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.ES256); err != nil {
		return nil, nil, fmt.Errorf("failed to set alg: %w", err)
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, nil, fmt.Errorf("failed to set use: %w", err)
	}

	pub, err := key.PublicKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, nil, fmt.Errorf("failed to build JWKS: %w", err)
	}

	if privateJSON, err = json.MarshalIndent(key, "", "  "); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private JWK: %w", err)
	}
	if publicJSON, err = json.MarshalIndent(set, "", "  "); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal JWKS: %w", err)
	}
	return privateJSON, publicJSON, nil
}
