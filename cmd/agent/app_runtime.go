package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/miruml/agent/internal/activity"
	"github.com/miruml/agent/internal/buildinfo"
	"github.com/miruml/agent/internal/cache"
	"github.com/miruml/agent/internal/config"
	"github.com/miruml/agent/internal/crypt"
	"github.com/miruml/agent/internal/deploy"
	"github.com/miruml/agent/internal/fsutil"
	"github.com/miruml/agent/internal/httpclient"
	"github.com/miruml/agent/internal/model"
	"github.com/miruml/agent/internal/mqttsub"
	"github.com/miruml/agent/internal/server"
	"github.com/miruml/agent/internal/syncer"
	"github.com/miruml/agent/internal/token"
)

const devicePrivateKeyFile = "private.key"

type agentApp struct {
	envCfg   *config.EnvConfig
	device   model.Device
	caches   *cache.Registry
	client   *httpclient.Client
	tokenMgr *token.Manager
	bus      *deploy.Bus
	syncr    *syncer.Syncer
	tracker  *activity.Tracker
	mqttSub  *mqttsub.Subscriber
	localSrv *server.Server
}

func run() error {
	log.Printf("agent: starting version=%s commit=%s built=%s", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)

	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}

	app, err := newAgentApp(envCfg)
	if err != nil {
		return err
	}

	serverErrCh := app.start()
	runtimeErr := waitForShutdown(serverErrCh)

	ctx, cancel := context.WithTimeout(context.Background(), envCfg.SyncShutdownDeadline)
	defer cancel()
	app.shutdown(ctx)

	if runtimeErr != nil {
		return fmt.Errorf("runtime error: %w", runtimeErr)
	}
	return nil
}

func newAgentApp(envCfg *config.EnvConfig) (*agentApp, error) {
	device, err := loadOrInitDevice(envCfg.RootDir, envCfg.BackendBaseURL)
	if err != nil {
		return nil, err
	}

	signer, err := loadSigner(envCfg.RootDir)
	if err != nil {
		log.Printf("agent: no device keypair yet (%v); authenticated backend calls will fail until one is provisioned", err)
	}

	caches, err := cache.NewRegistry(envCfg.RootDir, cache.Capacities{
		Schemas:         envCfg.CacheCapacitySchemas,
		ConfigInstances: envCfg.CacheCapacityConfigInstances,
		Digests:         envCfg.CacheCapacityDigests,
		ConcreteConfigs: envCfg.CacheCapacityConcreteConfigs,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: open caches: %w", err)
	}

	app := &agentApp{envCfg: envCfg, device: device, caches: caches}

	var tokenMgr *token.Manager
	client, err := httpclient.New(httpclient.Config{
		BaseURL:        device.BackendBaseURL,
		RequestTimeout: envCfg.HTTPRequestTimeout,
		Tokens: tokenProviderFunc(func(ctx context.Context) (string, error) {
			if tokenMgr == nil {
				return "", fmt.Errorf("agent: device not activated")
			}
			return tokenMgr.GetToken(ctx)
		}),
	})
	if err != nil {
		return nil, err
	}
	app.client = client

	if signer != nil {
		tokenMgr = token.NewManager(device.DeviceID, signer, client, envCfg.TokenRefreshSkew)
		app.tokenMgr = tokenMgr
	}

	app.bus = deploy.NewBus()
	app.bus.Register(deploy.NewStorageObserver(caches.ConfigInstances))

	app.tracker = activity.NewTracker()

	app.syncr = syncer.New(syncer.Config{
		Interval:         envCfg.SyncInterval,
		CronSchedule:     envCfg.SyncCronSchedule,
		PushConcurrency:  envCfg.SyncPushConcurrency,
		ShutdownDeadline: envCfg.SyncShutdownDeadline,
		Cooldown: syncer.Cooldown{
			BaseSecs:     envCfg.CooldownBaseSecs,
			GrowthFactor: envCfg.CooldownGrowthFactor,
			MaxSecs:      envCfg.CooldownMaxSecs,
		},
	}, caches, client, app.bus, app.tracker)

	app.localSrv = server.New(envCfg.ListenAddress, &server.State{
		DeviceID:  device.DeviceID,
		Activated: device.Activated,
		Caches:    caches,
		Syncer:    app.syncr,
		TokenMgr:  app.tokenMgr,
		Activity:  app.tracker,
	})

	return app, nil
}

func (a *agentApp) start() <-chan error {
	errCh := make(chan error, 2)

	if err := a.syncr.Start(); err != nil {
		errCh <- fmt.Errorf("agent: start syncer: %w", err)
	}

	if a.device.Activated {
		sub, err := mqttsub.New(a.envCfg.MQTTBrokerURL, a.device.DeviceID, a.syncr.Kick)
		if err != nil {
			log.Printf("agent: mqtt subscriber unavailable: %v", err)
		} else {
			a.mqttSub = sub
		}
	}

	go func() {
		log.Printf("agent: local server listening on %s", a.envCfg.ListenAddress)
		if err := a.localSrv.ListenAndServe(); err != nil && !isServerClosed(err) {
			errCh <- fmt.Errorf("agent: local server: %w", err)
		}
	}()

	return errCh
}

func (a *agentApp) shutdown(ctx context.Context) {
	if err := a.localSrv.Shutdown(ctx); err != nil {
		log.Printf("agent: local server shutdown error: %v", err)
	}
	if a.mqttSub != nil {
		a.mqttSub.Close()
	}
	if err := a.syncr.Shutdown(ctx); err != nil {
		log.Printf("agent: syncer shutdown error: %v", err)
	}
	if err := a.caches.Shutdown(); err != nil {
		log.Printf("agent: cache shutdown error: %v", err)
	}
	log.Println("agent: shutdown complete")
}

func waitForShutdown(serverErrCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Printf("agent: received signal %s, shutting down...", sig)
		return nil
	case err := <-serverErrCh:
		log.Printf("agent: received runtime error (%v), shutting down...", err)
		return err
	}
}

func loadOrInitDevice(rootDir, backendBaseURL string) (model.Device, error) {
	path := filepath.Join(rootDir, "agent.json")
	if fsutil.Exists(path) {
		data, err := fsutil.ReadFile(path)
		if err != nil {
			return model.Device{}, err
		}
		var d model.Device
		if err := json.Unmarshal(data, &d); err != nil {
			return model.Device{}, fmt.Errorf("agent: parse %s: %w", path, err)
		}
		return d, nil
	}

	d := model.DefaultDevice()
	d.BackendBaseURL = backendBaseURL
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return model.Device{}, err
	}
	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		return model.Device{}, err
	}
	return d, nil
}

func loadSigner(rootDir string) (*crypt.Signer, error) {
	path := filepath.Join(rootDir, "auth", devicePrivateKeyFile)
	if !fsutil.Exists(path) {
		return nil, fmt.Errorf("no keypair provisioned at %s", path)
	}
	data, err := fsutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return crypt.NewSigner(ed25519.PrivateKey(data))
}

func isServerClosed(err error) bool {
	return err != nil && err.Error() == "http: Server closed"
}

type tokenProviderFunc func(ctx context.Context) (string, error)

func (f tokenProviderFunc) GetToken(ctx context.Context) (string, error) { return f(ctx) }
