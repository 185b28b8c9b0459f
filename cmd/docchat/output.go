package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/kalambet/docchat/internal/registry"
	"github.com/kalambet/docchat/internal/transcript"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
	faint  = color.New(color.Faint)
)

// diag receives status lines. Command results go to the command's stdout.
var diag io.Writer = os.Stderr

func printSuccess(format string, args ...any) {
	fmt.Fprintln(diag, green.Sprint("✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(diag, red.Sprint("✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(diag, yellow.Sprint("⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(diag, "  %s %s\n", bold.Sprint(label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(diag, cyan.Sprint("→ "+fmt.Sprintf(format, args...)))
}

// formatFileSize renders n bytes as B, KB or MB with two decimals.
func formatFileSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.2f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
	}
}

func printDocuments(w io.Writer, docs []registry.Document, activeID string) {
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents uploaded yet.")
		return
	}
	for _, d := range docs {
		marker := " "
		if d.ID == activeID {
			marker = green.Sprint("*")
		}
		fmt.Fprintf(w, "%s %s  %s  %d pages  %s  %s\n",
			marker,
			cyan.Sprintf("%-6s", d.ID),
			bold.Sprint(d.Filename),
			d.PageCount,
			formatFileSize(d.FileSize),
			faint.Sprint(d.UploadDate.Local().Format("2006-01-02 15:04")),
		)
	}
}

func printMessage(w io.Writer, m transcript.Message) {
	label := cyan.Sprint("you")
	if m.Role == transcript.RoleBot {
		label = green.Sprint("bot")
	}
	fmt.Fprintf(w, "%s %s %s\n", faint.Sprint(m.Timestamp.Local().Format("15:04")), label, strings.TrimSpace(m.Content))
}

func printTranscript(w io.Writer, msgs []transcript.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No questions asked yet.")
		return
	}
	for _, m := range msgs {
		printMessage(w, m)
	}
}
