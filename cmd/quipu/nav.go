package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"quipu/internal/factory"
	"quipu/internal/history"
)

var (
	saveMessage string

	checkoutNoCapture bool
	stepNoCapture     bool
	assumeYes         bool
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Capture the current workspace as a node",
	Long: `Record the current workspace as a capture node whose parent is the node
HEAD points at. Nothing is recorded when the workspace already matches a node.

Examples:
  quipu save
  quipu save -m "manual edit"`,
	Args: cobra.NoArgs,
	RunE: runSave,
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout <node>",
	Short: "Restore the workspace to a node's snapshot",
	Long: `Restore the workspace to the output of <node>, a prefix of a commit hash or
output tree. Unrecorded changes are captured first unless --no-capture is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckout,
}

var backCmd = &cobra.Command{
	Use:   "back",
	Short: "Go to the previous state in the visit history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep(cmd, false)
	},
}

var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Go to the next state in the visit history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep(cmd, true)
	},
}

func init() {
	saveCmd.Flags().StringVarP(&saveMessage, "message", "m", "", "Message describing the change")
	checkoutCmd.Flags().BoolVar(&checkoutNoCapture, "no-capture", false, "Discard unrecorded changes instead of capturing them")
	for _, c := range []*cobra.Command{backCmd, forwardCmd} {
		c.Flags().BoolVar(&stepNoCapture, "no-capture", false, "Discard unrecorded changes instead of capturing them")
	}
	for _, c := range []*cobra.Command{checkoutCmd, backCmd, forwardCmd} {
		c.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask before discarding unrecorded changes")
	}
}

// captureIfDrifted records the workspace when it does not match any node.
func captureIfDrifted(cmd *cobra.Command, ws *factory.Workspace, status history.AlignStatus, message string) (*history.Node, error) {
	if status == history.StatusClean {
		return nil, nil
	}
	tree, err := ws.Git.TreeHash(cmd.Context())
	if err != nil {
		return nil, err
	}
	return ws.Engine.CaptureDrift(cmd.Context(), tree, message)
}

func runSave(cmd *cobra.Command, args []string) error {
	ws, status, err := alignWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	out := cmd.OutOrStdout()
	n, err := captureIfDrifted(cmd, ws, status, saveMessage)
	if err != nil {
		return err
	}
	if n == nil {
		fmt.Fprintln(out, "Nothing to save: the workspace matches a recorded node.")
		return nil
	}
	fmt.Fprintf(out, "Saved %s\n", formatNode(n))
	return nil
}

func runCheckout(cmd *cobra.Command, args []string) error {
	ws, status, err := alignWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	target, err := ws.Engine.ResolveNode(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := prepareMove(cmd, ws, status, checkoutNoCapture); err != nil {
		return err
	}

	if err := ws.Engine.Visit(cmd.Context(), target.OutputTree); err != nil {
		return err
	}
	fmt.Fprintf(out, "Checked out %s\n", formatNode(target))
	return nil
}

// saveBeforeMove captures drift so a move never discards unrecorded edits.
func saveBeforeMove(cmd *cobra.Command, ws *factory.Workspace, status history.AlignStatus) error {
	saved, err := captureIfDrifted(cmd, ws, status, "")
	if err != nil {
		return fmt.Errorf("capturing changes before %s: %w", cmd.Name(), err)
	}
	if saved != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Saved unrecorded changes as %s\n", formatNode(saved))
	}
	return nil
}

// confirmDiscard asks before unrecorded changes are overwritten. Anything but
// an explicit yes cancels.
func confirmDiscard(cmd *cobra.Command, status history.AlignStatus) error {
	if status == history.StatusClean || assumeYes {
		return nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Discard unrecorded changes in the workspace? [y/N] ")
	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	}
	return history.ErrCancelled
}

// prepareMove either captures drift or confirms it may be discarded.
func prepareMove(cmd *cobra.Command, ws *factory.Workspace, status history.AlignStatus, noCapture bool) error {
	if noCapture {
		return confirmDiscard(cmd, status)
	}
	return saveBeforeMove(cmd, ws, status)
}

func runStep(cmd *cobra.Command, forward bool) error {
	ws, status, err := alignWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := prepareMove(cmd, ws, status, stepNoCapture); err != nil {
		return err
	}

	step, edge := ws.Engine.Back, "oldest"
	if forward {
		step, edge = ws.Engine.Forward, "newest"
	}
	tree, moved, err := step(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !moved {
		fmt.Fprintf(out, "Already at the %s entry of the visit history.\n", edge)
		return nil
	}
	if n := ws.Engine.Current(); n != nil {
		fmt.Fprintf(out, "Moved to %s\n", formatNode(n))
	} else {
		fmt.Fprintf(out, "Moved to tree %s\n", shortTree(tree))
	}
	return nil
}
