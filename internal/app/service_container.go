package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bridge-backend/internal/clients"
	"bridge-backend/internal/config"
	"bridge-backend/internal/db"
	"bridge-backend/internal/repository"
	"bridge-backend/internal/services"
)

// ServiceContainer wires the bridge store, chain clients, and the two
// relayer loops into a single object cmd/bridge/main.go can start and
// stop as a unit.
type ServiceContainer struct {
	DB *gorm.DB

	DepositIntentRepo repository.DepositIntentRepository
	WithdrawalRepo    repository.WithdrawalRepository
	ScanCursorRepo    repository.ScanCursorRepository
	IdempotencyRepo   repository.IdempotencyRepository
	FaucetRepo        repository.FaucetRepository

	ZcashClient *clients.ZcashClient
	MidenClient *clients.MidenClient
	NATSClient  *clients.NATSClient

	ZcashRelayer *services.ZcashRelayer
	MidenRelayer *services.MidenRelayer

	Logger *logrus.Logger

	natsOnce sync.Once
}

var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer builds the container exactly once; subsequent
// calls return the already-built instance.
func InitializeContainer() (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		log.Println("🚀 initializing bridge service container...")

		container := &ServiceContainer{DB: db.DB, Logger: logrus.StandardLogger()}

		if err := container.initRepositories(); err != nil {
			initErr = fmt.Errorf("init repositories: %w", err)
			return
		}
		if err := container.initChainClients(); err != nil {
			initErr = fmt.Errorf("init chain clients: %w", err)
			return
		}
		if err := container.seedFaucet(); err != nil {
			log.Printf("⚠️ faucet seed skipped: %v", err)
		}
		if err := container.initRelayers(); err != nil {
			initErr = fmt.Errorf("init relayers: %w", err)
			return
		}
		if err := container.initNATSClient(); err != nil {
			log.Printf("⚠️ NATS client not initialized: %v", err)
		}

		Container = container
		log.Println("✅ bridge service container initialized")
	})

	return Container, initErr
}

func (c *ServiceContainer) initRepositories() error {
	c.DepositIntentRepo = repository.NewDepositIntentRepository(c.DB)
	c.WithdrawalRepo = repository.NewWithdrawalRepository(c.DB)
	c.ScanCursorRepo = repository.NewScanCursorRepository(c.DB)
	c.IdempotencyRepo = repository.NewIdempotencyRepository(c.DB)
	c.FaucetRepo = repository.NewFaucetRepository(c.DB)
	return nil
}

func (c *ServiceContainer) initChainClients() error {
	cfg := config.AppConfig.Bridge
	rpcTimeout := time.Duration(cfg.RPCTimeoutSecs) * time.Second

	c.ZcashClient = clients.NewZcashClient(cfg.ZcashRPCURL, rpcTimeout, c.Logger)
	c.MidenClient = clients.NewMidenClient(cfg.MidenRPCURL, rpcTimeout, c.Logger)
	return nil
}

func (c *ServiceContainer) seedFaucet() error {
	cfg := config.AppConfig.Bridge
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.FaucetRepo.EnsureSeeded(ctx, cfg.FaucetID)
}

func (c *ServiceContainer) initRelayers() error {
	cfg := config.AppConfig.Bridge
	rpcTimeout := time.Duration(cfg.RPCTimeoutSecs) * time.Second

	c.ZcashRelayer = services.NewZcashRelayer(
		c.ZcashClient,
		c.MidenClient,
		c.DepositIntentRepo,
		c.ScanCursorRepo,
		c.IdempotencyRepo,
		services.ZcashRelayerConfig{
			PoolAddr:          cfg.BridgePoolAddr,
			FaucetID:          cfg.FaucetID,
			BridgeAccountID:   cfg.BridgeAccountID,
			ScanBatchBlocks:   cfg.ScanBatchBlocks,
			MaxMintAttempts:   cfg.MaxMintAttempts,
			FanOut:            cfg.FanOut,
			DustThresholdBase: cfg.DustThresholdBase,
			RPCTimeout:        rpcTimeout,
			Interval:          time.Duration(cfg.ZcashRelayerIntervalSecs) * time.Second,
		},
		c.Logger,
	)

	c.MidenRelayer = services.NewMidenRelayer(
		c.MidenClient,
		c.ZcashClient,
		c.WithdrawalRepo,
		c.IdempotencyRepo,
		services.MidenRelayerConfig{
			PoolAddr:        cfg.BridgePoolAddr,
			BridgeAccountID: cfg.BridgeAccountID,
			ExitTag:         cfg.ExitTag,
			FanOut:          cfg.FanOut,
			RPCTimeout:      rpcTimeout,
			Interval:        time.Duration(cfg.MidenRelayerIntervalSecs) * time.Second,
		},
		c.Logger,
	)

	c.ZcashRelayer.Start()
	c.MidenRelayer.Start()
	return nil
}

func (c *ServiceContainer) initNATSClient() error {
	var initErr error
	c.natsOnce.Do(func() {
		if config.AppConfig == nil || config.AppConfig.NATS.URL == "" || !config.AppConfig.NATS.EnableJetStream {
			initErr = fmt.Errorf("NATS not configured")
			return
		}
		natsClient, err := clients.NewNATSClient(
			config.AppConfig.NATS.URL,
			config.AppConfig.NATS.StreamName,
			config.AppConfig.NATS.Subject,
			time.Duration(config.AppConfig.NATS.Timeout)*time.Second,
			time.Duration(config.AppConfig.NATS.ReconnectWait)*time.Second,
			config.AppConfig.NATS.MaxReconnects,
			c.Logger,
		)
		if err != nil {
			initErr = fmt.Errorf("create NATS client: %w", err)
			return
		}
		c.NATSClient = natsClient
	})
	return initErr
}

// Cleanup stops both relayers and then closes the NATS connection.
func (c *ServiceContainer) Cleanup() {
	log.Println("🧹 cleaning up bridge service container...")

	if c.ZcashRelayer != nil {
		c.ZcashRelayer.Stop()
	}
	if c.MidenRelayer != nil {
		c.MidenRelayer.Stop()
	}
	if c.NATSClient != nil {
		c.NATSClient.Close()
	}

	log.Println("✅ bridge service container cleaned up")
}
