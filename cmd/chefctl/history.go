// File: cmd/chefctl/history.go
// Brief: CLI command wiring and implementation for 'history'.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/chefctl/internal/history"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newHistoryCommand(ro *rootOptions) *cobra.Command {
	var (
		limit  int
		output string
	)
	cmd := &cobra.Command{
		Use:           "history",
		Short:         "List recent chefctl runs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, opts, err := ro.load(cmd)
			if err != nil {
				return err
			}
			store, err := history.Open(ctx, opts.HistoryDB, true)
			if err != nil {
				return err
			}
			defer store.Close()
			entries, err := store.List(ctx, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			switch strings.ToLower(output) {
			case "table", "":
				useColor(w)
				renderHistoryTable(w, entries, terminalWidth(w))
				return nil
			case "json":
				if entries == nil {
					entries = []history.Entry{}
				}
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			default:
				return fmt.Errorf("unknown output format %q (expected table or json)", output)
			}
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	decorateCommandHelp(cmd, "History Flags")
	return cmd
}

// terminalWidth is the width of w when it is a terminal, else 0 (unbounded).
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

func renderHistoryTable(w io.Writer, entries []history.Entry, width int) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	headers := []string{"STARTED", "RUN", "STATUS", "EXIT", "ATTEMPTS", "DURATION", "LOG"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			shortID(e.ID),
			e.Status,
			strconv.Itoa(e.ExitCode),
			strconv.Itoa(e.Attempts),
			e.Duration().Round(time.Second).String(),
			e.LogFile,
		})
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if cw := runewidth.StringWidth(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}
	// Shrink the last column to fit the terminal.
	if width > 0 {
		used := 0
		for _, cw := range widths[:len(widths)-1] {
			used += cw + 2
		}
		if room := width - used; room > 10 && widths[len(widths)-1] > room {
			widths[len(widths)-1] = room
		}
	}
	writeRow := func(cells []string, paint func(col int, s string) string) {
		var b strings.Builder
		for i, cell := range cells {
			last := i == len(cells)-1
			cell = runewidth.Truncate(cell, widths[i], "…")
			padded := cell
			if !last {
				padded = runewidth.FillRight(cell, widths[i])
			}
			b.WriteString(paint(i, padded))
			if !last {
				b.WriteString("  ")
			}
		}
		fmt.Fprintln(w, b.String())
	}
	bold := color.New(color.Bold)
	writeRow(headers, func(_ int, s string) string { return bold.Sprint(s) })
	for _, row := range rows {
		status := row[2]
		writeRow(row, func(col int, s string) string {
			if col != 2 {
				return s
			}
			if status == "success" {
				return color.GreenString("%s", s)
			}
			return color.RedString("%s", s)
		})
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
