// Package main mints a signed bearer token for local development and
// manual API testing. It reads the same ZCANIC_AUTH_* settings as the server.
//
// Usage:
//
//	devtoken [-user <uuid>] [-lifetime 2h]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/zcanic/zcanic-server/internal/config"
	"github.com/zcanic/zcanic-server/internal/service/auth"
)

func main() {
	userFlag := flag.String("user", "", "user UUID to place in the sub claim (random when empty)")
	lifetime := flag.Duration("lifetime", 0, "token lifetime (defaults to auth.token_lifetime)")
	flag.Parse()

	cfg, err := config.LoadAuth()
	if err != nil {
		log.Fatalf("devtoken: %v", err)
	}
	if err := mint(context.Background(), os.Stdout, *cfg, *userFlag, *lifetime); err != nil {
		log.Fatalf("devtoken: %v", err)
	}
}

func mint(ctx context.Context, w io.Writer, cfg config.AuthConfig, user string, lifetime time.Duration) error {
	userID := uuid.New()
	if user != "" {
		var err error
		if userID, err = uuid.Parse(user); err != nil {
			return fmt.Errorf("invalid -user %q: %w", user, err)
		}
	}
	if lifetime > 0 {
		cfg.TokenLifetime = lifetime
	}

	svc, err := auth.NewJWTService(cfg)
	if err != nil {
		return err
	}
	token, err := svc.GenerateToken(ctx, userID)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "user_id: %s\ntoken: %s\n", userID, token)
	return err
}
