// Command burstfsctl is an operator CLI for inspecting and driving cluster
// expansion on a running burst-buffer cluster.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"burstfs/internal/daemon"
	"burstfs/internal/hostregistry"
	"burstfs/internal/logging"
	"burstfs/internal/malleability"
	"burstfs/internal/rpc"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var hostsFile, target string
	var timeout time.Duration

	rootCmd := &cobra.Command{Use: "burstfsctl", Short: "Operator CLI for a burst-buffer cluster"}
	rootCmd.PersistentFlags().StringVar(&hostsFile, "hosts-file", "", "shared hosts file path")
	rootCmd.PersistentFlags().StringVar(&target, "target", "", "address of the daemon to contact (defaults to the first host in --hosts-file)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "RPC timeout")

	listCmd := &cobra.Command{
		Use:   "hosts",
		Short: "List the cluster's registered hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts := hostregistry.New(hostregistry.Config{Path: hostsFile, Logger: logger})
			if err := hosts.Load(); err != nil {
				return err
			}
			for _, e := range hosts.Entries() {
				fmt.Printf("%d\t%s\t%s\t%s\n", e.ID, e.Hostname, e.RPCURI, e.ProxyURI)
			}
			return nil
		},
	}

	statCmd := &cobra.Command{
		Use:   "chunkstat",
		Short: "Report the target daemon's local chunk capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(hostsFile, target, timeout, func(ctx context.Context, c *rpc.Client) error {
				var out daemon.ChunkStatOutput
				if err := c.Call(ctx, daemon.TagChunkStat, struct{}{}, &out); err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}

	expandStartCmd := &cobra.Command{
		Use:   "expand-start <old-n> <new-n>",
		Short: "Begin a cluster expansion: enter maintenance mode and start redistribution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldN, newN, err := parseTwoInts(args[0], args[1])
			if err != nil {
				return err
			}
			return withClient(hostsFile, target, timeout, func(ctx context.Context, c *rpc.Client) error {
				return c.Call(ctx, malleability.TagExpandStart, malleability.ExpandStartInput{OldN: oldN, NewN: newN}, nil)
			})
		},
	}

	expandStatusCmd := &cobra.Command{
		Use:   "expand-status",
		Short: "Report whether this node is still redistributing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(hostsFile, target, timeout, func(ctx context.Context, c *rpc.Client) error {
				var out malleability.ExpandStatusOutput
				if err := c.Call(ctx, malleability.TagExpandStatus, struct{}{}, &out); err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}

	expandFinalizeCmd := &cobra.Command{
		Use:   "expand-finalize",
		Short: "Clear maintenance mode cluster-wide once redistribution has finished everywhere",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(hostsFile, target, timeout, func(ctx context.Context, c *rpc.Client) error {
				return c.Call(ctx, malleability.TagExpandFinalize, struct{}{}, nil)
			})
		},
	}

	versionCmd := &cobra.Command{
		Use: "version",
		Run: func(cmd *cobra.Command, args []string) { fmt.Println(version) },
	}

	rootCmd.AddCommand(listCmd, statCmd, expandStartCmd, expandStatusCmd, expandFinalizeCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseTwoInts(a, b string) (int, int, error) {
	var x, y int
	if _, err := fmt.Sscanf(a, "%d", &x); err != nil {
		return 0, 0, fmt.Errorf("invalid old-n %q: %w", a, err)
	}
	if _, err := fmt.Sscanf(b, "%d", &y); err != nil {
		return 0, 0, fmt.Errorf("invalid new-n %q: %w", b, err)
	}
	return x, y, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withClient resolves target (or the first hosts-file entry) and dials a
// *rpc.Client scoped to timeout, handing it to fn.
func withClient(hostsFile, target string, timeout time.Duration, fn func(ctx context.Context, c *rpc.Client) error) error {
	addr := target
	if addr == "" {
		if hostsFile == "" {
			return fmt.Errorf("either --target or --hosts-file is required")
		}
		hosts := hostregistry.New(hostregistry.Config{Path: hostsFile, Logger: logging.Discard()})
		if err := hosts.Load(); err != nil {
			return err
		}
		entries := hosts.Entries()
		if len(entries) == 0 {
			return fmt.Errorf("hosts file %s has no entries", hostsFile)
		}
		addr = entries[0].RPCURI
	}

	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer cc.Close()

	client := rpc.NewClient(cc, timeout, 1)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx, client)
}
