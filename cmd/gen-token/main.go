package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskhub-api/auth"
)

func main() {
	var (
		count  = flag.Int("count", 1, "number of tokens to generate, each for a fresh user id")
		output = flag.String("output", "", "file to write generated tokens as a JSON array")
	)
	flag.Parse()

	if *count < 1 {
		log.Fatal("count must be at least 1")
	}
	args := flag.Args()
	if len(args) > 0 && *count > 1 {
		log.Fatal("explicit user ID cannot be provided when generating multiple tokens")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET must be set")
	}
	keyID := os.Getenv("JWT_KEY_ID")
	if keyID == "" {
		keyID = "primary"
	}
	tokens := auth.NewTokenService(auth.SigningKey{ID: keyID, Secret: []byte(secret)})

	var userID string
	if len(args) > 0 {
		userID = args[0]
	}
	out, err := issueTokens(tokens, *count, userID)
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}

	if *output != "" {
		if err := writeTokens(*output, out); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(out[0])
}

// issueTokens signs count tokens for userID, or for a fresh id each when
// userID is empty.
func issueTokens(tokens *auth.TokenService, count int, userID string) ([]string, error) {
	out := make([]string, count)
	for i := range out {
		id := userID
		if id == "" {
			id = uuid.NewString()
		}
		tok, err := tokens.Issue(id)
		if err != nil {
			return nil, err
		}
		out[i] = tok
	}
	return out, nil
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
