package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/docchat/internal/config"
)

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List, upload or delete documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded documents, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			return err
		}
		printDocuments(cmd.OutOrStdout(), ws.Snapshot().Documents, "")
		return nil
	},
}

var docsUploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>",
	Short: "Upload a PDF document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := readUpload(args[0])
		if err != nil {
			return err
		}
		ws, err := newWorkspace()
		if err != nil {
			return err
		}
		printStep("Uploading %s (%s)...", f.Name, formatFileSize(int64(len(f.Data))))
		doc, err := ws.Upload(cmd.Context(), f)
		if err != nil {
			return explain(err)
		}
		printSuccess("Uploaded %s (%d pages, %s) as document %s", doc.Filename, doc.PageCount, formatFileSize(doc.FileSize), doc.ID)
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and its question history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := newWorkspace()
		if err != nil {
			return err
		}
		if err := ws.DeleteDocument(cmd.Context(), args[0]); err != nil {
			return explain(err)
		}
		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

func init() {
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsUploadCmd)
	docsCmd.AddCommand(docsDeleteCmd)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask --doc <id> <question>",
	Short: "Ask a question about a document",
	Long: `Ask a question about a document and print the answer.

Example:
  docchat ask --doc 3 "What is the warranty period?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docID, _ := cmd.Flags().GetString("doc")
		question := strings.Join(args, " ")

		ws, err := openDocument(cmd.Context(), docID)
		if err != nil {
			return err
		}
		ans, err := ws.SubmitQuestion(cmd.Context(), question)
		if err != nil {
			return explain(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ans)
		return nil
	},
}

func init() {
	askCmd.Flags().String("doc", "", "document id (see: docchat docs list)")
	_ = askCmd.MarkFlagRequired("doc")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or clear a document's question history",
}

var historyShowCmd = &cobra.Command{
	Use:   "show --doc <id>",
	Short: "Show the questions asked about a document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		docID, _ := cmd.Flags().GetString("doc")
		ws, err := openDocument(cmd.Context(), docID)
		if err != nil {
			return err
		}
		printTranscript(cmd.OutOrStdout(), ws.Snapshot().Transcript)
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear --doc <id>",
	Short: "Delete the questions asked about a document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		docID, _ := cmd.Flags().GetString("doc")
		ws, err := openDocument(cmd.Context(), docID)
		if err != nil {
			return err
		}
		if err := ws.ClearHistory(cmd.Context()); err != nil {
			return explain(err)
		}
		if n := len(ws.Snapshot().Transcript); n > 0 {
			printWarning("History cleared but %d messages remain on the backend", n)
			return nil
		}
		printSuccess("History cleared for document %s", docID)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{historyShowCmd, historyClearCmd} {
		c.Flags().String("doc", "", "document id (see: docchat docs list)")
		_ = c.MarkFlagRequired("doc")
		historyCmd.AddCommand(c)
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s\n", config.Path())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s  %s\n", bold.Sprint(k.Key), k.Value, faint.Sprint("$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
