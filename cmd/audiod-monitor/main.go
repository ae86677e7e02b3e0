package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"audiod/internal/core/services"
	"audiod/internal/infrastructure/distributed"
	"audiod/pkg/config"
	"audiod/pkg/logger"

	"github.com/google/uuid"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "path to the audiod config file")
	stream     = flag.String("stream", "", "only print events for this stream type")
	raw        = flag.Bool("json", false, "print events as JSON lines")
	issueToken = flag.String("issue-token", "", "print a token for this caller and exit")
	scopes     = flag.String("scopes", services.ScopeControl, "comma separated scopes for -issue-token")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		if err := printToken(cfg, *issueToken, strings.Split(*scopes, ",")); err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	log := logger.New(cfg.Logging.Level, "console").Sugar()
	defer log.Sync()

	client, err := distributed.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, 2, log)
	if err != nil {
		log.Fatalw("Failed to connect to Redis", "error", err)
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := distributed.NewEventBus(client, cfg.Redis.Channel, "monitor-"+uuid.NewString(), 1, log)
	log.Infow("Watching status events", "channel", cfg.Redis.Channel)

	err = bus.Subscribe(ctx, func(ev *distributed.Event) error {
		if *stream != "" && string(ev.StreamType) != *stream {
			return nil
		}
		if *raw {
			line, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			fmt.Println(string(line))
			return nil
		}
		fmt.Println(formatEvent(ev))
		return nil
	})
	if err != nil && ctx.Err() == nil {
		log.Fatalw("Subscription ended", "error", err)
	}
}

func printToken(cfg *config.Config, caller string, scopes []string) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set")
	}
	token, err := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).GenerateToken(caller, scopes)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func formatEvent(ev *distributed.Event) string {
	s := ev.Data
	return fmt.Sprintf("%s %-6s %-20s %-8s volume=%3d muted=%-5t active=%-5t ducked=%-5t [%s]",
		ev.Timestamp.Format("15:04:05.000"),
		ev.Kind,
		ev.StreamType,
		ev.Reason,
		s.Volume,
		s.Muted,
		s.Active,
		s.PolicyActive,
		ev.InstanceID,
	)
}
