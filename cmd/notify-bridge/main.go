package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/adsettle/backend/internal/config"
	"github.com/adsettle/backend/internal/db"
	"github.com/adsettle/backend/internal/events"
)

// notify-bridge subscribes to deal events on Redis and forwards them to the
// bot service, which owns the actual messaging to the parties.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)

	log.Info("notify-bridge started")

	_ = subscriber.Subscribe(ctx, "events:deal", func(event events.Event) {
		log.Info("forwarding event to bot", zap.String("type", event.Type))
		forwardToBot(cfg.BotInternalURL, event, log)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}

func forwardToBot(baseURL string, event events.Event, log *zap.Logger) {
	entityID, ok := event.Payload["entity_id"]
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]any{
		"entity_id": entityID,
		"type":      event.Type,
		"payload":   event.Payload,
	})

	url := fmt.Sprintf("%s/internal/notify", strings.TrimRight(baseURL, "/"))
	resp, err := http.Post(url, "application/json", strings.NewReader(string(body)))
	if err != nil {
		log.Warn("failed to forward notification", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("bot notification returned non-200", zap.Int("status", resp.StatusCode))
	}
}
