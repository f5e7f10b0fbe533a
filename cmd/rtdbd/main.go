// Package main provides rtdbd, the replicated table store daemon: it wires
// together the cluster controller, one pipeline per configured table, the
// libp2p replication mesh, the telemetry/alert subsystems, and the JSON-RPC
// + websocket gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/latticefin/rtdb/internal/cluster"
	"github.com/latticefin/rtdb/internal/config"
	"github.com/latticefin/rtdb/internal/handle"
	"github.com/latticefin/rtdb/internal/pipeline"
	"github.com/latticefin/rtdb/internal/replication"
	"github.com/latticefin/rtdb/internal/rpc"
	"github.com/latticefin/rtdb/internal/storage"
	"github.com/latticefin/rtdb/internal/telemetry"
	"github.com/latticefin/rtdb/internal/transport"
	"github.com/latticefin/rtdb/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir    = flag.String("data-dir", "~/.rtdb", "Data directory")
		configFile = flag.String("config", "", "Config file path (default: <data-dir>/rtdb.yaml)")
		listenAddr = flag.String("rpc-listen", "", "JSON-RPC/websocket listen address, overrides config")
		logLevel   = flag.String("log-level", "", "Log level (debug/info/warn/error), overrides config")
		showVer    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("rtdbd %s (%s)\n", version, commit)
		os.Exit(0)
	}

	log := logging.New(logging.DefaultConfig())
	logging.SetDefault(log)

	cfgPath := *configFile
	if cfgPath == "" {
		cfgPath = config.ConfigPath(*dataDir)
	}

	cfg, err := loadOrDefault(cfgPath, *dataDir)
	if err != nil {
		log.Fatal("loading config", "error", err)
	}

	// CLI flags override the loaded file.
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *listenAddr != "" {
		cfg.RPC.ListenAddr = *listenAddr
	}

	// Re-initialize logging now that the configured level is known.
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logging.SetDefault(log)

	if err := run(log, cfg); err != nil {
		log.Fatal("rtdbd exited with error", "error", err)
	}
}

func loadOrDefault(path, dataDir string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		cfg.DataDir = dataDir
		return cfg, nil
	}
	return config.Load(path)
}

func run(log *logging.Logger, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataDir := expandPath(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	// ------------------------------------------------------------------
	// Cluster controller (C6)
	// ------------------------------------------------------------------
	warmup := cfg.WarmupWindow()
	hosts := make([]cluster.Host, 0, len(cfg.Cluster.Hosts))
	for _, h := range cfg.Cluster.Hosts {
		hosts = append(hosts, cluster.Host{ID: h.ID, Addr: h.Addr, Priority: h.Priority})
	}
	ctrl := cluster.New(cluster.Config{
		SelfID:       cfg.Cluster.SelfID,
		Hosts:        hosts,
		WarmupWindow: warmup,
		WarmupBatch:  cfg.Cluster.WarmupBatch,
	})
	ctrl.OnPrimary(func(self, prev string) {
		log.Info("elected primary", "self", self, "previous", prev)
	})
	ctrl.OnStandby(func(self, reason string) {
		log.Info("standing by", "self", self, "reason", reason)
	})

	// ------------------------------------------------------------------
	// Storage + pipelines (C3/C4), one per configured table
	// ------------------------------------------------------------------
	tables := make(map[string]*pipeline.Pipeline, len(cfg.Pipeline.Tables))
	tableIDs := make(map[string]uint16, len(cfg.Pipeline.Tables))
	for i, tc := range cfg.Pipeline.Tables {
		cache := storage.NewMemTable(tc.Name, map[int]handle.KeyFunc{}, map[int]bool{})

		var backing storage.Table
		if tc.Durable {
			sqlTable, err := storage.OpenSQLTable(tc.Name, storage.SQLConfig{DataDir: dataDir, Durable: true})
			if err != nil {
				return fmt.Errorf("opening sqlite table %q: %w", tc.Name, err)
			}
			defer sqlTable.Close()
			backing = sqlTable
		}

		mode := pipeline.WriteThrough
		if tc.CacheMode == "write-back" {
			mode = pipeline.WriteBack
		}

		p := pipeline.New(pipeline.Config{
			Name:      tc.Name,
			Cache:     cache,
			Backing:   backing,
			Mode:      mode,
			QueueSize: tc.QueueSize,
		})
		defer p.Stop()
		tables[tc.Name] = p
		tableIDs[tc.Name] = uint16(i + 1)
	}

	// ------------------------------------------------------------------
	// Telemetry + alerts (C7/C8/C9)
	// ------------------------------------------------------------------
	floor := time.Duration(cfg.Telemetry.MinIntervalMS) * time.Millisecond
	dispatcher := telemetry.NewDispatcher(floor)
	alerts := telemetry.NewAlertPipeline(
		filepath.Join(dataDir, "alerts"),
		cfg.Telemetry.AlertPrefix,
		cfg.Telemetry.RingBufferSize,
		cfg.Telemetry.MaxReplayDays,
	)

	// ------------------------------------------------------------------
	// Transport + replication mesh (C5/C11)
	// ------------------------------------------------------------------
	host, err := transport.New(ctx, transport.Config{
		ListenAddrs:  cfg.Transport.ListenAddrs,
		IdentityPath: cfg.Transport.IdentityPath,
		ConnMgrLow:   cfg.Transport.ConnMgrLow,
		ConnMgrHigh:  cfg.Transport.ConnMgrHigh,
		Registry:     replication.NewMessageRegistry(),
	})
	if err != nil {
		return fmt.Errorf("starting transport host: %w", err)
	}
	defer host.Close()

	appliers := make(map[uint16]replication.Applier, len(tables))
	for name, p := range tables {
		appliers[tableIDs[name]] = p
	}

	host.SetStreamHandler(protocol.ID(replication.ProtocolID), func(f *transport.Framed) {
		ch := replication.NewChannel(f)
		recv := replication.NewReceiver(ch, appliers)
		sender := replication.NewSender(ch, 256, func() { ch.Close() })
		defer sender.Stop()
		if err := recv.Run(func(tableID uint16, fromUN uint64) {
			sender.Recover(replication.Recover{TableID: tableID, FromUN: fromUN})
		}); err != nil {
			log.Warn("replication stream ended", "error", err)
		}
	})

	for _, h := range cfg.Cluster.Hosts {
		if h.ID == cfg.Cluster.SelfID {
			continue
		}
		h := h
		go dialPeer(ctx, log, host, h, appliers)
	}

	// ------------------------------------------------------------------
	// JSON-RPC + websocket gateway
	// ------------------------------------------------------------------
	server := rpc.NewServer(tables, ctrl, dispatcher, alerts)
	if err := server.Start(cfg.RPC.ListenAddr); err != nil {
		return fmt.Errorf("starting rpc server: %w", err)
	}

	printBanner(log, cfg, host.ID())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	cancel()
	if err := server.Stop(); err != nil {
		log.Error("stopping rpc server", "error", err)
	}
	log.Info("goodbye")
	return nil
}

// dialPeer opens and keeps alive a replication channel to one configured
// peer, redialing on failure with a backoff that doubles from 2s up to 60s;
// per spec.md §4.5, each pair of hosts that may exchange the primary role
// maintains its own independent channel.
func dialPeer(ctx context.Context, log *logging.Logger, host *transport.Host, h config.HostConfig, appliers map[uint16]replication.Applier) {
	backoff := 2 * time.Second
	const maxBackoff = 60 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		id, err := host.Dial(ctx, h.Addr)
		if err != nil {
			log.Warn("dialing peer", "peer", h.ID, "error", err)
			time.Sleep(backoff)
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = 2 * time.Second

		framed, err := host.OpenStream(ctx, id, protocol.ID(replication.ProtocolID))
		if err != nil {
			log.Warn("opening replication stream", "peer", h.ID, "error", err)
			time.Sleep(2 * time.Second)
			continue
		}

		ch := replication.NewChannel(framed)
		recv := replication.NewReceiver(ch, appliers)
		sender := replication.NewSender(ch, 256, func() { ch.Close() })
		if err := recv.Run(func(tableID uint16, fromUN uint64) {
			sender.Recover(replication.Recover{TableID: tableID, FromUN: fromUN})
		}); err != nil {
			log.Warn("replication channel to peer ended", "peer", h.ID, "error", err)
		}
		sender.Stop()
		time.Sleep(2 * time.Second)
	}
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, cfg *config.Config, selfID peer.ID) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  rtdb (%s)", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Cluster self id: %s", cfg.Cluster.SelfID)
	log.Infof("  Peer id:         %s", selfID.String())
	log.Infof("  Data dir:        %s", expandPath(cfg.DataDir))
	log.Info("")
	log.Infof("  RPC:  http://%s", cfg.RPC.ListenAddr)
	log.Infof("  WS:   ws://%s%s", cfg.RPC.ListenAddr, cfg.RPC.WSPath)
	log.Info("")
	names := make([]string, 0, len(cfg.Pipeline.Tables))
	for _, t := range cfg.Pipeline.Tables {
		names = append(names, t.Name+"("+strconv.Itoa(t.QueueSize)+")")
	}
	log.Infof("  Tables: %v", names)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
