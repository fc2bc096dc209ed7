package main

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lamim/skipdoc/internal/writer"
	"github.com/lamim/skipdoc/pkg/models"
)

const manifestFilename = "manifest.json"

// listSessions lists all session directories in the output folder
func listSessions(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(out, "No output directory found. Run skipdoc prepare first.")
			return nil
		}
		return fmt.Errorf("failed to read output directory: %w", err)
	}

	found := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "session_") {
			continue
		}
		found++
		status := "incomplete"
		m, err := writer.ReadManifest(filepath.Join(outputDir, entry.Name(), manifestFilename))
		if err == nil {
			status = fmt.Sprintf("%s %s, %d rows", m.Format, m.ModelName, m.Corpus.RowsKept)
		}
		fmt.Fprintf(out, "%-40s %s\n", entry.Name(), status)
	}
	if found == 0 {
		fmt.Fprintln(out, "No sessions found.")
	}
	return nil
}

// showSession prints the manifest of one session
func showSession(cmd *cobra.Command, args []string) error {
	sessionDir := args[0]
	if err := writer.ValidateSessionPath(outputDir, sessionDir); err != nil {
		return fmt.Errorf("invalid session directory: %w", err)
	}

	m, err := writer.ReadManifest(filepath.Join(outputDir, sessionDir, manifestFilename))
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session: %s\n", sessionDir)
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintf(out, "Run ID:       %s\n", m.RunID)
	fmt.Fprintf(out, "Created At:   %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Finished At:  %s\n", m.Finished.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Config Hash:  %s\n", m.ConfigHash)
	fmt.Fprintf(out, "Model:        %s (%s)\n", m.ModelName, m.ModelFamily)
	fmt.Fprintf(out, "Format:       %s\n", m.Format)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Corpus:")
	fmt.Fprintf(out, "  Read %d, filtered %d, dropped %d, kept %d\n",
		m.Corpus.RowsRead, m.Corpus.RowsFiltered, m.Corpus.RowsCleaned, m.Corpus.RowsKept)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Splits:")
	for _, name := range models.Splits {
		st, ok := m.Splits[name]
		if !ok {
			continue
		}
		fmt.Fprintf(out, "  %-12s %d records, %d examples, %d skipped, %d batches -> %s\n",
			name, st.Records, st.Examples, st.Skipped, st.Batches, st.File)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
