package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pulldiag/internal/editor"
	"pulldiag/internal/lsp"
	"pulldiag/internal/snapshot"
)

var showCmd = &cobra.Command{
	Use:   "show <snapshot>",
	Short: "Print the diagnostics stored in a snapshot written by check or watch",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	maxDiagnostics, err := cmd.Root().PersistentFlags().GetInt("max-diagnostics")
	if err != nil {
		return fmt.Errorf("failed to get max-diagnostics flag: %w", err)
	}
	snap, err := snapshot.ReadFile(args[0])
	if err != nil {
		return err
	}

	// Replaying into an empty store gives the same ordering as a live run.
	ed := editor.New(nil, nil)
	snapshot.Restore(ed, snap)
	store := make(map[lsp.DocumentURI][]editor.DiagnosticEntry)
	for _, uri := range ed.DiagnosticURIs() {
		store[uri] = ed.Diagnostics(uri)
	}

	if !snap.CreatedAt.IsZero() {
		fmt.Fprintf(cmd.ErrOrStderr(), "snapshot taken %s\n", snap.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	cwd, _ := os.Getwd()
	_, err = renderDiagnostics(cmd.OutOrStdout(), store, renderOptions{cwd: cwd, max: maxDiagnostics, names: snap.Servers})
	return err
}
