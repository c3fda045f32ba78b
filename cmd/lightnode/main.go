package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/lightmesh/internal/config"
	"github.com/ryandielhenn/lightmesh/internal/publish"
	"github.com/ryandielhenn/lightmesh/internal/telemetry"
	"github.com/ryandielhenn/lightmesh/pkg/flood"
	"github.com/ryandielhenn/lightmesh/pkg/hw"
	"github.com/ryandielhenn/lightmesh/pkg/mesh"
	"github.com/ryandielhenn/lightmesh/pkg/node"
	"github.com/ryandielhenn/lightmesh/pkg/registry"
)

// set with -ldflags "-X main.version=... -X main.gitSHA=..."
var (
	version = "dev"
	gitSHA  = "unknown"
)

const defaultUDPPort = "47000"

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	telemetry.SetBuildInfo(version, gitSHA)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("lightnode exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	self := cfg.Flood.Self.ShortID()
	neighbors := node.NormalizeAll(cfg.Neighbors, defaultUDPPort)

	// 1. Optional etcd: role IDs and links override the environment
	var (
		reg  *clientv3.Client
		from registry.Neighbors
	)
	if len(cfg.EtcdEndpoints) > 0 {
		var err error
		reg, err = dialRegistry(ctx, cfg.EtcdEndpoints, logger)
		if err != nil {
			return err
		}
		defer reg.Close()

		sensor, sink, err := registry.LoadRoleIDs(ctx, reg)
		switch {
		case err == nil:
			cfg.Flood.SensorID, cfg.Flood.SinkID = sensor, sink
			logger.Info("role ids from etcd", zap.Uint16("sensor_id", sensor), zap.Uint16("sink_id", sink))
		case errors.Is(err, registry.ErrNoRoleConfig):
			logger.Info("no role ids in etcd, using environment")
		default:
			return fmt.Errorf("load role ids: %w", err)
		}

		nodes, err := registry.ListNodes(ctx, reg)
		if err != nil {
			return fmt.Errorf("list nodes: %w", err)
		}
		if other, ok := nodes[self]; ok && other.Addr != cfg.Flood.Self.String() {
			return fmt.Errorf("short id %04x already registered by %s", self, other.Addr)
		}
		for id, ni := range nodes {
			logger.Info("registered node", zap.Uint16("id", id), zap.String("udp", ni.UDP), zap.Uint16("rank", ni.Rank))
		}

		from, err = registry.GetNeighbors(ctx, reg, self)
		if err != nil {
			return fmt.Errorf("get neighbors: %w", err)
		}
		if len(from.Peers) > 0 {
			neighbors = node.NormalizeAll(from.Addrs(), defaultUDPPort)
		}
	}

	// 2. Radio stand-in
	udp, err := mesh.ListenUDP(cfg.ListenAddr, neighbors, logger)
	if err != nil {
		return err
	}
	logger.Info("udp transport", zap.Stringer("local", udp.LocalAddr()), zap.Strings("neighbors", neighbors))

	// 3. Peripherals and sink outputs
	opts := node.Options{
		Flood:         cfg.Flood,
		Rank:          cfg.Rank,
		PoolSize:      cfg.PoolSize,
		TriggerPeriod: cfg.TriggerPeriod,
		BeaconPeriod:  cfg.BeaconPeriod,
		SyncTimeout:   cfg.SyncTimeout,
		Logger:        logger,
	}
	if cfg.LightPath != "" {
		lf := hw.NewLightFile(cfg.LightPath)
		lf.Scale = cfg.LightScale
		opts.Sensor = lf
	}
	if cfg.TxLEDPath != "" {
		opts.TxLight = &hw.LED{Path: cfg.TxLEDPath, Log: logger}
	}
	if cfg.RxLEDPath != "" {
		opts.RxLight = &hw.LED{Path: cfg.RxLEDPath, Log: logger}
	}
	if self == cfg.Flood.SinkID {
		pubs, closeAll := dialPublishers(cfg, self, logger)
		defer closeAll()
		opts.Publishers = pubs
	}

	n, err := node.New(udp, opts)
	if err != nil {
		udp.Close()
		return err
	}

	// 4. Register and follow link changes
	if reg != nil {
		info := registry.NodeInfo{
			ID:   self,
			Addr: cfg.Flood.Self.String(),
			UDP:  udp.LocalAddr().String(),
			HTTP: cfg.HTTPAddr,
			Rank: cfg.Rank,
		}
		leaseID, cancel, err := registry.RegisterNode(ctx, reg, info, 10)
		if err != nil {
			n.Close()
			return fmt.Errorf("register: %w", err)
		}
		defer func() {
			cancel()
			rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer rcancel()
			_, _ = reg.Revoke(rctx, leaseID)
		}()

		go func() {
			err := registry.WatchNeighbors(ctx, reg, self, from, logger, func(nb registry.Neighbors) {
				addrs := node.NormalizeAll(nb.Addrs(), defaultUDPPort)
				if err := udp.SetNeighbors(addrs); err != nil {
					logger.Warn("set neighbors", zap.Error(err))
					return
				}
				logger.Info("neighbors updated", zap.Strings("neighbors", addrs), zap.Int64("rev", nb.Rev))
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("neighbor watch ended", zap.Error(err))
			}
		}()
	}

	// 5. HTTP status
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           n.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
			stop()
		}
	}()

	runErr := n.Run(ctx)

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	return errors.Join(runErr, srv.Shutdown(sctx))
}

func dialPublishers(cfg config.Config, self uint16, logger *zap.Logger) ([]flood.Publisher, func()) {
	var (
		pubs    []flood.Publisher
		closers []func()
	)
	if cfg.MQTTBroker != "" {
		m, err := publish.DialMQTT(cfg.MQTTBroker, fmt.Sprintf("lightmesh-%04x", self), cfg.MQTTTopic, self, logger)
		if err != nil {
			logger.Warn("mqtt publisher disabled", zap.Error(err))
		} else {
			pubs = append(pubs, m)
			closers = append(closers, m.Close)
		}
	}
	if cfg.NATSURL != "" {
		p, nc, err := publish.DialNATS(cfg.NATSURL, fmt.Sprintf("lightmesh-%04x", self), cfg.NATSSubject, self)
		if err != nil {
			logger.Warn("nats publisher disabled", zap.Error(err))
		} else {
			pubs = append(pubs, p)
			closers = append(closers, func() { _ = nc.Drain() })
		}
	}
	return pubs, func() {
		for _, c := range closers {
			c()
		}
	}
}
