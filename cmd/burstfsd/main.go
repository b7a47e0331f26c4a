// Command burstfsd runs one daemon of a burst-buffer cluster: it owns a
// local metadata shard and chunk store, exposes the data/metadata RPC
// surface daemons, proxies, and peers talk to, and participates in the
// raft group that coordinates cluster expansion.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"burstfs/internal/chunkmath"
	"burstfs/internal/chunkstore"
	"burstfs/internal/cluster"
	"burstfs/internal/daemon"
	"burstfs/internal/distributor"
	"burstfs/internal/hostregistry"
	"burstfs/internal/logging"
	"burstfs/internal/malleability"
	"burstfs/internal/metadata"
	"burstfs/internal/metadata/kv/boltkv"
	"burstfs/internal/metrics"
	"burstfs/internal/rpc"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	logger := slog.New(logging.NewDefaultHandler(baseHandler))

	rootCmd := &cobra.Command{
		Use:   "burstfsd",
		Short: "Burst-buffer storage daemon",
	}

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Run a daemon node",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			hostsFile, _ := cmd.Flags().GetString("hosts-file")
			hostname, _ := cmd.Flags().GetString("hostname")
			rpcAddr, _ := cmd.Flags().GetString("rpc-addr")
			proxyAddr, _ := cmd.Flags().GetString("proxy-addr")
			clusterAddr, _ := cmd.Flags().GetString("cluster-addr")
			chunkSize, _ := cmd.Flags().GetUint64("chunk-size")
			ioWorkers, _ := cmd.Flags().GetInt("io-workers")
			bootstrapRaft, _ := cmd.Flags().GetBool("bootstrap-raft")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, runConfig{
				dataDir:       dataDir,
				hostsFile:     hostsFile,
				hostname:      hostname,
				rpcAddr:       rpcAddr,
				proxyAddr:     proxyAddr,
				clusterAddr:   clusterAddr,
				chunkSize:     chunkSize,
				ioWorkers:     ioWorkers,
				bootstrapRaft: bootstrapRaft,
			})
		},
	}

	serverCmd.Flags().String("data-dir", "", "local data directory (metadata db + chunk store)")
	serverCmd.Flags().String("hosts-file", "", "shared hosts file path")
	serverCmd.Flags().String("hostname", "", "this node's hostname token in the hosts file")
	serverCmd.Flags().String("rpc-addr", ":4567", "client/peer RPC listen address")
	serverCmd.Flags().String("proxy-addr", "", "proxy URI written into this node's hosts-file line (omitted when empty; no listener is opened for it)")
	serverCmd.Flags().String("cluster-addr", ":4568", "raft cluster port listen address")
	serverCmd.Flags().Uint64("chunk-size", 1<<20, "fixed chunk size in bytes, must be a power of two")
	serverCmd.Flags().Int("io-workers", 16, "blocking I/O task pool size")
	serverCmd.Flags().Bool("bootstrap-raft", false, "bootstrap a single-node raft cluster (first node only)")
	_ = serverCmd.MarkFlagRequired("data-dir")
	_ = serverCmd.MarkFlagRequired("hosts-file")
	_ = serverCmd.MarkFlagRequired("hostname")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serverCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type runConfig struct {
	dataDir       string
	hostsFile     string
	hostname      string
	rpcAddr       string
	proxyAddr     string
	clusterAddr   string
	chunkSize     uint64
	ioWorkers     int
	bootstrapRaft bool
}

func run(ctx context.Context, logger *slog.Logger, cfg runConfig) error {
	if err := os.MkdirAll(cfg.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	hosts := hostregistry.New(hostregistry.Config{Path: cfg.hostsFile, Logger: logger})
	if err := hosts.Register(cfg.hostname, cfg.rpcAddr, cfg.proxyAddr); err != nil {
		return fmt.Errorf("register in hosts file: %w", err)
	}
	selfID, ok := hosts.SelfID(cfg.hostname)
	if !ok {
		return fmt.Errorf("hostname %q not found in hosts file after registration", cfg.hostname)
	}
	logger.Info("joined cluster", "self_id", selfID, "size", hosts.Size())

	kv, err := boltkv.Open(filepath.Join(cfg.dataDir, "metadata.bolt"))
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer kv.Close()

	meta, err := metadata.NewAdapter(kv, metadata.TimestampPolicy{})
	if err != nil {
		return fmt.Errorf("create metadata adapter: %w", err)
	}

	size, err := chunkmath.New(cfg.chunkSize)
	if err != nil {
		return fmt.Errorf("chunk size: %w", err)
	}
	chunks, err := chunkstore.New(chunkstore.Config{RootDir: cfg.dataDir, ChunkSize: size, Logger: logger})
	if err != nil {
		return fmt.Errorf("create chunk store: %w", err)
	}

	pool := rpc.NewPool(hosts, insecure.NewCredentials())
	defer pool.Close()

	distFactory := func(n int) distributor.Distributor {
		return distributor.NewSimpleHash(distributor.DefaultHash, func() int { return n })
	}

	clusterSrv, err := cluster.New(cluster.Config{
		ClusterAddr: cfg.clusterAddr,
		NodeID:      cfg.hostname,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("create cluster server: %w", err)
	}

	fsm := malleability.NewFSM()
	r, err := malleability.BootRaft(malleability.BootConfig{
		NodeID:    cfg.hostname,
		DataDir:   cfg.dataDir,
		Transport: clusterSrv.Transport(),
		Bootstrap: cfg.bootstrapRaft,
	}, fsm)
	if err != nil {
		return fmt.Errorf("boot raft: %w", err)
	}
	clusterSrv.SetRaft(r)
	if err := clusterSrv.Start(); err != nil {
		return fmt.Errorf("start cluster server: %w", err)
	}
	defer clusterSrv.Stop()

	controller := malleability.New(malleability.Config{
		SelfID:      selfID,
		Raft:        r,
		FSM:         fsm,
		Metadata:    meta,
		Chunks:      chunks,
		Pool:        pool,
		Distributor: distFactory,
		Logger:      logger,
	})

	d := daemon.New(daemon.Config{
		Metadata:    meta,
		Chunks:      chunks,
		IOWorkers:   cfg.ioWorkers,
		Logger:      logger,
		Maintenance: controller.InMaintenance,
	})

	srv := rpc.NewServer(logger)
	if metrics.Enabled() {
		srv.UseMetrics(metrics.New(prometheus.DefaultRegisterer))
		logger.Info("metrics recording enabled")
	}
	d.RegisterHandlers(srv)
	controller.RegisterHandlers(srv)

	lis, err := net.Listen("tcp", cfg.rpcAddr)
	if err != nil {
		return fmt.Errorf("listen rpc addr %s: %w", cfg.rpcAddr, err)
	}
	grpcSrv := grpc.NewServer()
	srv.Register(grpcSrv)

	go func() {
		logger.Info("rpc server listening", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("rpc server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		grpcSrv.Stop()
	}

	return hosts.Remove()
}
