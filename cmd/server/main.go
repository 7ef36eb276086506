package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"sealed_chat/internal/config"
	"sealed_chat/internal/repository/revocation"
	"sealed_chat/internal/repository/signingkey"
	"sealed_chat/internal/repository/user"
	"sealed_chat/internal/service/certificate"
	redisSvc "sealed_chat/internal/service/redis"
	"sealed_chat/internal/service/server"
	"sealed_chat/internal/utils/log"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
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
	if err := userRepo.EnsureIndexes(ctx); err != nil {
		log.Fatal("create user indexes failed", zap.Error(err))
	}

	keyRepo := signingkey.NewSigningKeyRepo(db)
	if err := keyRepo.EnsureIndexes(ctx); err != nil {
		log.Fatal("create signing key indexes failed", zap.Error(err))
	}
	signer, err := signingkey.LoadOrCreate(ctx, keyRepo, cfg.Certificate.SigningKeyName, cfg.Certificate.SigningAlgorithm)
	if err != nil {
		log.Fatal("load signing key failed", zap.Error(err))
	}

	var revocations certificate.RevocationStore
	switch cfg.Certificate.RevocationBackend {
	case config.RevocationMemory:
		log.Warn("using in-memory revocation store; revocations are lost on restart")
		revocations = certificate.NewMemoryRevocationStore()
	default:
		revocations = revocation.NewRevocationRepo(redis)
	}

	authority, err := certificate.NewAuthority(signer, revocations, certificate.WithValidity(cfg.Certificate.Validity))
	if err != nil {
		log.Fatal("init certificate authority failed", zap.Error(err))
	}

	c := server.NewHttpServer(authority, userRepo, redis, server.Options{
		Addr:  cfg.HTTPAddr,
		Admin: cfg.Admin,
	})
	if err := c.Run(ctx); err != nil {
		log.Fatal("http server stopped", zap.Error(err))
	}
	log.Info("server shut down")
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
