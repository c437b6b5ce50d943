package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"quipu/internal/config"
	"quipu/internal/export"
	"quipu/internal/factory"
	"quipu/internal/gitstore"
	"quipu/internal/history"
)

var (
	syncRemote string
	syncPrune  bool

	exportOutput string
	exportType   string
)

var errNoCache = errors.New("the sqlite cache is not enabled (set storage.type: sqlite in .quipu/config.yml)")

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the SQLite cache and local head refs",
}

var cacheSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror new commits from refs/quipu/ into the cache",
	Args:  cobra.NoArgs,
	RunE:  runCacheSync,
}

var cacheRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Drop every cached node and hydrate again from Git",
	Args:  cobra.NoArgs,
	RunE:  runCacheRebuild,
}

var cachePruneRefsCmd = &cobra.Command{
	Use:   "prune-refs",
	Short: "Delete local heads whose commit is the parent of another local head",
	Long: `Delete refs/quipu/local/heads/<commit> entries that are redundant because a
descendant head keeps the commit reachable. No node is lost.`,
	Args: cobra.NoArgs,
	RunE: runCachePruneRefs,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Share history through a Git remote",
	Long: `Push local heads to refs/quipu/users/<user_id>/heads/ on the remote, fetch
your own and subscribed users' heads into refs/quipu/remotes/, and restore
local heads for commits you pushed from another machine.

On first use the derived user id is written to sync.user_id in
.quipu/config.yml so it stays stable.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export history as a .tar.zst of Markdown files",
	Long: `Write every node as <YYYYMMDD-HHMMSS>_<short>_<type>.md, with YAML front
matter, into a zstd-compressed tar archive.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	cacheCmd.AddCommand(cacheSyncCmd, cacheRebuildCmd, cachePruneRefsCmd)

	syncCmd.Flags().StringVar(&syncRemote, "remote", "", "Remote name (default sync.remote_name)")
	syncCmd.Flags().BoolVar(&syncPrune, "prune", false, "Delete local heads that are gone from the remote")

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "quipu-export.tar.zst", "Archive path")
	exportCmd.Flags().StringVarP(&exportType, "type", "t", "", "Only nodes of this type (plan or capture)")
}

func runCacheSync(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	h := ws.Hydrator()
	if h == nil {
		return errNoCache
	}
	n, err := h.Sync(cmd.Context(), ws.UserID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cached %d new node(s).\n", n)
	return nil
}

func runCacheRebuild(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	h := ws.Hydrator()
	if h == nil {
		return errNoCache
	}
	if err := ws.Store.Reset(cmd.Context()); err != nil {
		return err
	}
	n, err := h.Sync(cmd.Context(), ws.UserID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt cache with %d node(s).\n", n)
	return nil
}

func runCachePruneRefs(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	n, err := gitstore.PruneRedundantHeads(cmd.Context(), ws.Git)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d redundant head(s).\n", n)
	return nil
}

// ensureUserID persists the resolved user id on first sync.
func ensureUserID(ws *factory.Workspace) error {
	if ws.Config.Sync.UserID != "" {
		return nil
	}
	ws.Config.Sync.UserID = ws.UserID
	return config.Save(ws.Git.QuipuDir(), ws.Config)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ws, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	remote := syncRemote
	if remote == "" {
		remote = ws.Config.Sync.RemoteName
	}
	ok, err := ws.Git.RemoteExists(ctx, remote)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("remote %q is not configured", remote)
	}
	if err := ensureUserID(ws); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	uid := ws.UserID
	if err := ws.Git.PushQuipuRefs(ctx, remote, uid); err != nil {
		return err
	}
	fmt.Fprintf(out, "Pushed local heads to %s as %s\n", remote, uid)

	users := append([]string{uid}, ws.Config.Sync.Subscriptions...)
	if err := ws.Git.FetchQuipuRefs(ctx, remote, users...); err != nil {
		return err
	}
	fmt.Fprintf(out, "Fetched heads of %d user(s)\n", len(users))

	restored, err := ws.Git.ReconcileLocalWithRemote(ctx, remote, uid)
	if err != nil {
		return err
	}
	if restored > 0 {
		fmt.Fprintf(out, "Restored %d local head(s)\n", restored)
	}
	if syncPrune {
		pruned, err := ws.Git.PruneLocalFromRemote(ctx, remote, uid)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Pruned %d local head(s)\n", pruned)
	}

	if h := ws.Hydrator(); h != nil {
		n, err := h.Sync(ctx, uid)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Cached %d new node(s)\n", n)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	nodeType := history.NodeType(exportType)
	if nodeType != "" && !nodeType.Valid() {
		return fmt.Errorf("unknown node type %q (want plan or capture)", exportType)
	}

	ws, _, err := alignWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	var nodes []*history.Node
	for _, n := range ws.Engine.Nodes() {
		if nodeType == "" || n.Type == nodeType {
			nodes = append(nodes, n)
		}
	}

	path := exportOutput
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	count, err := export.Archive(cmd.Context(), f, nodes, ws.Engine)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d node(s) to %s\n", count, path)
	return nil
}
