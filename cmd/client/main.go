package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sealed_chat/internal/config"
	"sealed_chat/internal/repository/user"
	"sealed_chat/internal/service/app"
	"sealed_chat/internal/service/certclient"
	redisSvc "sealed_chat/internal/service/redis"
	"sealed_chat/internal/service/session"
	"sealed_chat/internal/utils/log"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	// os.Args[0] is the program name, os.Args[1:] are arguments
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: client <username>")
		os.Exit(2)
	}
	username := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	// the TUI owns stdout, so keep logs terse and readable
	if cfg.Log.Format == "json" {
		cfg.Log.Format = "console"
	}
	if err := log.Init(cfg.Log); err != nil {
		log.Fatal("init logger failed", zap.Error(err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mongoDBClient, err := initMongo(ctx, cfg.Mongo)
	if err != nil {
		log.Fatal("connect mongo failed", zap.Error(err))
	}
	defer mongoDBClient.Disconnect(context.Background())

	db := mongoDBClient.Database(cfg.Mongo.Database)

	redis, err := redisSvc.Connect(ctx, redisSvc.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal("connect redis failed", zap.Error(err))
	}
	defer redis.Close()

	userRepo := user.NewUserRepo(db)
	directory := certclient.New(cfg.ServerHost, certclient.WithRenewBefore(cfg.Certificate.RenewBefore))
	store := session.NewRedisStateStore(redis, cfg.Client.StateTTL)

	a := app.NewApp(userRepo, store, directory, app.Options{
		ServerHost:        cfg.ServerHost,
		DeviceID:          cfg.Client.DeviceID,
		PreferSealed:      cfg.Client.PreferSealed,
		RevocationRefresh: cfg.Client.RevocationRefresh,
	})
	defer a.Stop()

	a.Run(ctx, username)
}

func initMongo(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
