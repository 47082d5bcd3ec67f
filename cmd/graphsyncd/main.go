package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/specai/graphsync/pkg/config"
	"github.com/specai/graphsync/pkg/log"
	syncnode "github.com/specai/graphsync/pkg/sync"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "graphsyncd",
	Short: "graphsyncd replicates a knowledge graph across agent memory instances",
	Long: `graphsyncd is the distributed knowledge-graph synchronization daemon.
Each instance owns a local bbolt-backed graph and exchanges vector-clock
stamped deltas with its peers, converging without a central coordinator.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"graphsyncd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to graphsync.yaml")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(changelogCmd)
	rootCmd.AddCommand(nodeCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// loadNode reads configuration and opens a Node. The config file's
// log_level and log_json are not applied here; logging stays as
// initLogging configured it from the command-line flags.
func loadNode() (*syncnode.Node, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return syncnode.New(cfg)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run graphsyncd in the foreground, serving peers until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := loadNode()
		if err != nil {
			return err
		}
		if err := n.Start(); err != nil {
			return err
		}
		defer n.Stop()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		fmt.Println("shutting down")
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Trigger sync rounds against peers",
}

var syncPeerCmd = &cobra.Command{
	Use:   "peer [peer-instance-id] [peer-addr]",
	Short: "Run one bidirectional sync round against a specific peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		graphName, _ := cmd.Flags().GetString("graph")

		n, err := loadNode()
		if err != nil {
			return err
		}

		stats, err := n.SyncWithPeer(context.Background(), args[0], args[1], session, graphName)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	syncPeerCmd.Flags().String("session", "", "Session to sync")
	syncPeerCmd.Flags().String("graph", "default", "Graph name within the session")
	_ = syncPeerCmd.MarkFlagRequired("session")
	syncCmd.AddCommand(syncPeerCmd)
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect and manage replicated graphs",
}

var graphListCmd = &cobra.Command{
	Use:   "list [session]",
	Short: "List graphs registered for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := loadNode()
		if err != nil {
			return err
		}
		graphs, err := n.Store().GraphList(args[0])
		if err != nil {
			return err
		}
		for _, g := range graphs {
			fmt.Println(g)
		}
		return nil
	},
}

var graphEnableCmd = &cobra.Command{
	Use:   "enable [session] [graph]",
	Short: "Enable sync for a graph within a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := loadNode()
		if err != nil {
			return err
		}
		return n.Store().GraphSetSyncEnabled(args[0], args[1], true)
	},
}

var graphDisableCmd = &cobra.Command{
	Use:   "disable [session] [graph]",
	Short: "Disable sync for a graph within a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := loadNode()
		if err != nil {
			return err
		}
		return n.Store().GraphSetSyncEnabled(args[0], args[1], false)
	},
}

func init() {
	graphCmd.AddCommand(graphListCmd, graphEnableCmd, graphDisableCmd)
}

var changelogCmd = &cobra.Command{
	Use:   "changelog",
	Short: "Inspect and maintain the append-only changelog",
}

var changelogPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Run one changelog prune cycle immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		retentionDays, _ := cmd.Flags().GetInt("retention-days")
		n, err := loadNode()
		if err != nil {
			return err
		}
		removed, err := n.Store().ChangelogPrune(retentionDays)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d rows older than %d days\n", removed, retentionDays)
		return nil
	},
}

func init() {
	changelogPruneCmd.Flags().Int("retention-days", 30, "Delete changelog rows older than this many days")
	changelogCmd.AddCommand(changelogPruneCmd)
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect individual graph nodes",
}

var nodeInspectCmd = &cobra.Command{
	Use:   "inspect [node-id]",
	Short: "Print the stored record for a node, including sync metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			return fmt.Errorf("invalid node id %q: %w", args[0], err)
		}

		n, err := loadNode()
		if err != nil {
			return err
		}
		synced, err := n.Store().GetNodeWithSync(id)
		if err != nil {
			return err
		}
		if synced == nil {
			return fmt.Errorf("node %d not found", id)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(synced)
	},
}

func init() {
	nodeCmd.AddCommand(nodeInspectCmd)
}
