// Command burstfs-proxy runs the per-node proxy process (spec §4.13): a
// local RPC surface that client processes on this node talk to instead
// of dialing every daemon directly.
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
	"burstfs/internal/client"
	"burstfs/internal/distributor"
	"burstfs/internal/hostregistry"
	"burstfs/internal/logging"
	"burstfs/internal/metrics"
	"burstfs/internal/proxy"
	"burstfs/internal/rpc"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(logging.NewDefaultHandler(baseHandler))

	rootCmd := &cobra.Command{Use: "burstfs-proxy", Short: "Per-node proxy for the burst-buffer filesystem"}

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Run the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			hostsFile, _ := cmd.Flags().GetString("hosts-file")
			listenAddr, _ := cmd.Flags().GetString("listen-addr")
			pidPath, _ := cmd.Flags().GetString("pid-file")
			chunkSize, _ := cmd.Flags().GetUint64("chunk-size")
			numCopies, _ := cmd.Flags().GetInt("num-copies")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, hostsFile, listenAddr, pidPath, chunkSize, numCopies)
		},
	}
	serverCmd.Flags().String("hosts-file", "", "shared hosts file path")
	serverCmd.Flags().String("listen-addr", "127.0.0.1:4569", "proxy listen address")
	serverCmd.Flags().String("pid-file", filepath.Join(os.TempDir(), "burstfs-proxy.pid"), "pid file enforcing one proxy per node")
	serverCmd.Flags().Uint64("chunk-size", 1<<20, "fixed chunk size in bytes, must match the daemons")
	serverCmd.Flags().Int("num-copies", 1, "replication factor for writes (1 = no replication)")
	_ = serverCmd.MarkFlagRequired("hosts-file")

	versionCmd := &cobra.Command{
		Use: "version",
		Run: func(cmd *cobra.Command, args []string) { fmt.Println(version) },
	}

	rootCmd.AddCommand(serverCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, hostsFile, listenAddr, pidPath string, chunkSizeBytes uint64, numCopies int) error {
	pidfile, err := proxy.AcquirePIDFile(pidPath)
	if err != nil {
		return err
	}
	defer pidfile.Release()

	hosts := hostregistry.New(hostregistry.Config{Path: hostsFile, Logger: logger})
	if err := hosts.Load(); err != nil {
		return fmt.Errorf("load hosts file: %w", err)
	}

	dist := distributor.NewSimpleHash(distributor.DefaultHash, hosts.Size)
	reloader := distributor.NewReloader(
		func() *time.Ticker { return time.NewTicker(10 * time.Second) },
		func(context.Context) error { return hosts.Load() },
		func(err error) { logger.Error("hosts file reload failed", "error", err) },
	)
	defer reloader.Stop()

	pool := rpc.NewPool(hosts, insecure.NewCredentials())
	defer pool.Close()

	chunkSize, err := chunkmath.New(chunkSizeBytes)
	if err != nil {
		return fmt.Errorf("chunk size: %w", err)
	}

	metaFwd := client.NewMetadataForwarder(dist, pool, 0, 0)
	dataFwd := client.NewDataForwarder(client.Config{
		Distributor: dist, Pool: pool, ChunkSize: chunkSize, NumCopies: numCopies,
	})

	p := proxy.New(proxy.Config{Metadata: metaFwd, Data: dataFwd, Dist: dist, Pool: pool, Logger: logger})

	srv := rpc.NewServer(logger)
	if metrics.Enabled() {
		srv.UseMetrics(metrics.New(prometheus.DefaultRegisterer))
		logger.Info("metrics recording enabled")
	}
	p.RegisterHandlers(srv)

	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}
	grpcSrv := grpc.NewServer()
	srv.Register(grpcSrv)

	go func() {
		logger.Info("proxy listening", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("proxy server error", "error", err)
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
	return nil
}
