// Package main provides the quipu CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"quipu/internal/factory"
	"quipu/internal/history"
	"quipu/internal/logging"
	"quipu/internal/telemetry"
)

// EnvWorkDir overrides the default working directory.
const EnvWorkDir = "AI_FS_WORK_DIR"

// Version is the current quipu CLI version.
var Version = "0.3.0"

var workDir string

var rootCmd = &cobra.Command{
	Use:   "quipu",
	Short: "Quipu - a navigable history of workspace states stored in Git",
	Long: `Quipu records each meaningful state of a workspace as a node in a history
graph kept inside the repository's Git object database, under refs/quipu/.

Nodes are either plans (the result of running a structured plan) or captures
(ad-hoc snapshots of manual drift). The graph can be browsed, checked out,
walked back and forward, shared over ordinary Git remotes and mirrored into a
local SQLite cache.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command groups for organized help output
const (
	groupHistory = "history"
	groupNav     = "nav"
	groupAdmin   = "admin"
)

func defaultWorkDir() string {
	if dir := os.Getenv(EnvWorkDir); dir != "" {
		return dir
	}
	return "."
}

// openWorkspace builds the engine for --work-dir. The caller must Close it.
func openWorkspace(cmd *cobra.Command) (*factory.Workspace, error) {
	level := logging.ParseLevel(os.Getenv(logging.EnvLevel), slog.LevelWarn)
	logger := logging.New(cmd.ErrOrStderr(), level)
	return factory.CreateEngine(cmd.Context(), workDir,
		factory.WithLogger(logger),
		factory.WithVersion(Version),
	)
}

// alignWorkspace opens the workspace and aligns it with its history.
func alignWorkspace(cmd *cobra.Command) (*factory.Workspace, history.AlignStatus, error) {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return nil, "", err
	}
	status, err := ws.Engine.Align(cmd.Context())
	if err != nil {
		ws.Close()
		return nil, "", err
	}
	return ws, status, nil
}

func formatNode(n *history.Node) string {
	return fmt.Sprintf("%s  %s  %-7s  %s",
		n.ShortHash(), n.Timestamp.Local().Format(time.DateTime), n.Type, n.Summary)
}

func shortTree(tree string) string {
	if len(tree) >= 12 {
		return tree[:12]
	}
	return tree
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDir, "work-dir", "w", defaultWorkDir(),
		"Workspace directory (default $"+EnvWorkDir+" or .)")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupHistory, Title: "History:"},
		&cobra.Group{ID: groupNav, Title: "Navigation:"},
		&cobra.Group{ID: groupAdmin, Title: "Maintenance and sharing:"},
	)

	for _, c := range []*cobra.Command{statusCmd, logCmd, findCmd, showCmd, lsCmd, catCmd} {
		c.GroupID = groupHistory
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{saveCmd, checkoutCmd, backCmd, forwardCmd} {
		c.GroupID = groupNav
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{cacheCmd, syncCmd, exportCmd} {
		c.GroupID = groupAdmin
		rootCmd.AddCommand(c)
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()
	shutdown, err := telemetry.Init(ctx, telemetry.ConfigFromEnv(Version))
	if err != nil {
		fmt.Fprintln(os.Stderr, "quipu:", err)
		return 1
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "quipu: telemetry:", err)
		}
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "quipu:", err)
		return 1
	}
	return 0
}
