package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"quipu/internal/gitstore"
	"quipu/internal/history"
)

var (
	logLimit  int
	logOffset int

	findType  string
	findLimit int

	showMeta bool
	showTree bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Compare the workspace with the recorded history",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List nodes, newest first",
	Args:  cobra.NoArgs,
	RunE:  runLog,
}

var findCmd = &cobra.Command{
	Use:   "find [pattern]",
	Short: "Search nodes by summary",
	Long: `Search nodes whose summary matches pattern.

With the git_object backend the pattern is a case-insensitive regular
expression; with the sqlite backend it is a substring.

Examples:
  quipu find readme
  quipu find --type capture`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFind,
}

var showCmd = &cobra.Command{
	Use:   "show <node>",
	Short: "Print a node's metadata and content",
	Long: `Print a node's metadata.json and content.md.

<node> is a prefix (at least 4 characters) of a commit hash or output tree.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var catCmd = &cobra.Command{
	Use:   "cat <node> <path>",
	Short: "Print a file from a node's snapshot",
	Args:  cobra.ExactArgs(2),
	RunE:  runCat,
}

var lsCmd = &cobra.Command{
	Use:   "ls [node]",
	Short: "List the files of a snapshot",
	Long: `List the files of a node's snapshot, or of HEAD when no node is given.
Paths matching list_files.ignore_patterns are omitted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

func init() {
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "Number of nodes to show (0 for all)")
	logCmd.Flags().IntVar(&logOffset, "offset", 0, "Number of newest nodes to skip")

	findCmd.Flags().StringVarP(&findType, "type", "t", "", "Only nodes of this type (plan or capture)")
	findCmd.Flags().IntVarP(&findLimit, "limit", "n", 0, "Maximum results (0 for all)")

	showCmd.Flags().BoolVar(&showMeta, "meta", false, "Print only metadata.json")
	showCmd.Flags().BoolVar(&showTree, "tree", false, "Print the entries of the node's commit tree")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ws, status, err := alignWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	out := cmd.OutOrStdout()
	eng := ws.Engine
	fmt.Fprintf(out, "Status:  %s\n", status)
	fmt.Fprintf(out, "Storage: %s\n", ws.StorageType)
	fmt.Fprintf(out, "User:    %s\n", ws.UserID)
	fmt.Fprintf(out, "Nodes:   %d\n", len(eng.Nodes()))
	if head := eng.Head(); head != "" {
		fmt.Fprintf(out, "HEAD:    %s\n", shortTree(head))
	}
	if n := eng.Current(); n != nil {
		fmt.Fprintf(out, "Current: %s\n", formatNode(n))
	}
	switch status {
	case history.StatusDirty:
		fmt.Fprintln(out, "\nThe workspace has changes not recorded in history (run 'quipu save').")
	case history.StatusOrphan:
		fmt.Fprintln(out, "\nNo history yet (run 'quipu save' to record the current state).")
	}
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	ws, _, err := alignWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	nodes, err := ws.Engine.Log(cmd.Context(), logLimit, logOffset)
	if err != nil {
		return err
	}
	current := ws.Engine.Current()
	out := cmd.OutOrStdout()
	if len(nodes) == 0 {
		fmt.Fprintln(out, "No history.")
		return nil
	}
	for _, n := range nodes {
		marker := " "
		if current != nil && current.CommitHash == n.CommitHash {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\n", marker, formatNode(n))
	}
	return nil
}

func runFind(cmd *cobra.Command, args []string) error {
	q := history.FindQuery{Type: history.NodeType(findType), Limit: findLimit}
	if q.Type != "" && !q.Type.Valid() {
		return fmt.Errorf("unknown node type %q (want plan or capture)", findType)
	}
	if len(args) == 1 {
		q.SummaryPattern = args[0]
	}

	ws, _, err := alignWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	nodes, err := ws.Engine.Find(cmd.Context(), q)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, n := range nodes {
		fmt.Fprintln(out, formatNode(n))
	}
	if len(nodes) == 0 {
		fmt.Fprintln(out, "No matching nodes.")
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ws, _, err := alignWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	n, err := ws.Engine.ResolveNode(args[0])
	if err != nil {
		return err
	}
	if showTree {
		entries, err := ws.Engine.NodeEntries(n.CommitHash)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, e := range entries {
			kind := "blob"
			if e.IsDir() {
				kind = "tree"
			}
			fmt.Fprintf(out, "%06o %s %s\t%s\n", uint32(e.Mode), kind, e.Hash, e.Name)
		}
		return nil
	}
	blobs, err := ws.Engine.NodeBlobs(cmd.Context(), n.CommitHash)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "commit %s\n", n.CommitHash)
	fmt.Fprintf(out, "tree   %s -> %s\n", n.InputTree, n.OutputTree)
	if n.OwnerID != "" {
		fmt.Fprintf(out, "owner  %s\n", n.OwnerID)
	}
	fmt.Fprintf(out, "\n%s\n", strings.TrimRight(string(blobs[gitstore.MetadataFile]), "\n"))
	if !showMeta {
		fmt.Fprintf(out, "\n%s\n", strings.TrimRight(string(blobs[gitstore.ContentFile]), "\n"))
	}
	return nil
}

func runLs(cmd *cobra.Command, args []string) error {
	ws, _, err := alignWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	tree := ""
	if len(args) == 1 {
		n, err := ws.Engine.ResolveNode(args[0])
		if err != nil {
			return err
		}
		tree = n.OutputTree
	}
	files, err := ws.Engine.ListFiles(cmd.Context(), tree)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, f := range files {
		fmt.Fprintln(out, f)
	}
	return nil
}

func runCat(cmd *cobra.Command, args []string) error {
	ws, _, err := alignWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	n, err := ws.Engine.ResolveNode(args[0])
	if err != nil {
		return err
	}
	data, err := ws.Engine.ReadSnapshotFile(n.OutputTree, args[1])
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
