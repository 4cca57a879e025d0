package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"veilchat/internal/auth"
	"veilchat/internal/config"
	"veilchat/internal/cryptographic/dh"
	"veilchat/internal/ledger"
	ackRepo "veilchat/internal/repository/ack"
	deviceRepo "veilchat/internal/repository/device"
	envelopeRepo "veilchat/internal/repository/envelope"
	sthRepo "veilchat/internal/repository/sth"
	"veilchat/internal/service/audit"
	"veilchat/internal/service/gateway"
	redisSvc "veilchat/internal/service/redis"
	"veilchat/internal/session"
	"veilchat/internal/transparency"
	"veilchat/internal/utils/log"
)

func main() {
	configPath := flag.String("config", "veilchat.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load config failed", zap.Error(err))
		os.Exit(1)
	}

	mongoDBClient, err := initMongo(cfg.Server.MongoURI)
	if err != nil {
		log.Error("mongo connect failed", zap.Error(err))
		os.Exit(1)
	}
	db := mongoDBClient.Database(cfg.Server.MongoDB)

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Server.RedisAddr,
	})
	redisService := redisSvc.NewRedis(rdb)

	cosigners, err := buildCosigners(cfg.Cosigners)
	if err != nil {
		log.Error("cosigner setup failed", zap.Error(err))
		os.Exit(1)
	}

	serverPriv, serverPub, err := dh.NewX25519KeyPair()
	if err != nil {
		log.Error("gateway keypair generation failed", zap.Error(err))
		os.Exit(1)
	}

	sths := sthRepo.NewSTHRepo(db)
	tree := transparency.NewTree()
	policy := transparency.NewCosignPolicy(cosigners)
	tlog := transparency.NewLog(tree, policy, sths, time.Now)

	envelopes := envelopeRepo.NewEnvelopeRepo(db)
	devices := deviceRepo.NewDeviceRepo(db)
	acks := ackRepo.NewAckRepo(db)

	verifier := auth.NewStaticVerifier()
	for _, tok := range cfg.Tokens {
		verifier.Issue(tok.Token, auth.Principal{DeviceID: tok.DeviceID, UserID: tok.UserID})
	}
	membership := auth.NewStaticMembership()
	for _, room := range cfg.Rooms {
		for _, member := range room.Members {
			membership.Add(member, room.ID)
		}
	}

	gw := gateway.NewGateway(
		gateway.Options{
			EditWindow:        cfg.Protocol.EditWindow.Duration,
			IdempotencyWindow: cfg.Protocol.IdempotencyWindow.Duration,
			SendBuffer:        cfg.Protocol.SendBuffer,
			SweepInterval:     cfg.Protocol.SweepInterval.Duration,
		},
		verifier,
		membership,
		devices,
		envelopes,
		acks,
		gateway.NewRedisOfflineQueue(redisService),
		ledger.NewRedisLedger(redisService),
		session.NewManager(),
		tlog,
		serverPriv, serverPub,
		time.Now,
	)

	auditSvc := audit.NewService(tlog, sths, envelopes, func() bool {
		return mongoDBClient.Ping(context.Background(), nil) == nil
	})

	r := mux.NewRouter()
	gw.Register(r)
	auditSvc.Register(r)

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	go gw.RunSweeper(sweepCtx)

	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: r,
	}
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Listen))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server stopped", zap.Error(err))
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done

	cancelSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	mongoDBClient.Disconnect(shutdownCtx)
	log.Sync()
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}

func buildCosigners(entries []config.Cosigner) ([]transparency.Cosigner, error) {
	var cosigners []transparency.Cosigner
	for _, cs := range entries {
		if cs.Seed != "" {
			seed, err := hex.DecodeString(cs.Seed)
			if err != nil {
				return nil, err
			}
			if len(seed) != ed25519.SeedSize {
				return nil, fmt.Errorf("cosigner %q: seed must be %d bytes", cs.ID, ed25519.SeedSize)
			}
			cosigners = append(cosigners, transparency.NewCosigner(cs.ID, ed25519.NewKeyFromSeed(seed)))
			continue
		}
		pub, err := hex.DecodeString(cs.Public)
		if err != nil {
			return nil, err
		}
		cosigners = append(cosigners, transparency.VerifyOnly(cs.ID, ed25519.PublicKey(pub)))
	}
	return cosigners, nil
}
