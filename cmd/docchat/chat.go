package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/docchat/internal/registry"
	"github.com/kalambet/docchat/internal/workspace"
)

const chatHelp = `Commands:
  /upload <file.pdf>  upload a PDF and select it
  /docs               list documents (* marks the selected one)
  /use <id>           select a document; /use alone clears the selection
  /delete <id>        delete a document
  /clear              delete the selected document's history
  /history            show the selected document's history
  /quit               leave
Anything else is a question about the selected document.`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat about your documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ws, err := openWorkspace(ctx)
		if err != nil {
			return err
		}
		if docID, _ := cmd.Flags().GetString("doc"); docID != "" {
			if err := ws.SelectDocument(ctx, docID); err != nil {
				return fmt.Errorf("selecting document %s: %w", docID, err)
			}
		}
		return runChat(ctx, ws, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().String("doc", "", "document to select on start")
}

type chatSession struct {
	ws  *workspace.Workspace
	out io.Writer
}

// runChat reads commands and questions from in until /quit, EOF or ctx is
// done.
func runChat(ctx context.Context, ws *workspace.Workspace, in io.Reader, out io.Writer) error {
	s := &chatSession{ws: ws, out: out}

	fmt.Fprintln(out, bold.Sprint("docchat")+" "+faint.Sprint("(/help for commands)"))
	s.showDocuments()
	s.showActive()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		s.prompt()
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			s.ask(ctx, line)
			continue
		}

		name, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch name {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, chatHelp)
		case "/docs":
			if err := ws.LoadDocuments(ctx); err != nil {
				s.fail(err)
			}
			s.showDocuments()
		case "/upload":
			s.upload(ctx, arg)
		case "/use":
			s.use(ctx, arg)
		case "/delete":
			s.delete(ctx, arg)
		case "/clear":
			if err := ws.ClearHistory(ctx); err != nil {
				s.fail(err)
				continue
			}
			fmt.Fprintln(out, green.Sprint("History cleared"))
		case "/history":
			printTranscript(out, ws.Snapshot().Transcript)
		default:
			fmt.Fprintf(out, "Unknown command %s. /help lists commands.\n", name)
		}
	}
}

func (s *chatSession) prompt() {
	st := s.ws.Snapshot()
	name := "no document"
	if st.Active != nil {
		name = st.Active.Filename
	}
	fmt.Fprintf(s.out, "%s> ", cyan.Sprint(name))
}

func (s *chatSession) fail(err error) {
	fmt.Fprintln(s.out, red.Sprint(explain(err).Error()))
}

func (s *chatSession) showDocuments() {
	st := s.ws.Snapshot()
	activeID := ""
	if st.Active != nil {
		activeID = st.Active.ID
	}
	printDocuments(s.out, st.Documents, activeID)
}

func (s *chatSession) showActive() {
	st := s.ws.Snapshot()
	if st.Active == nil {
		fmt.Fprintln(s.out, faint.Sprint("Upload a PDF (/upload) or select one (/use <id>) to start asking."))
		return
	}
	fmt.Fprintf(s.out, "Chatting about %s\n", bold.Sprint(st.Active.Filename))
	if len(st.Transcript) > 0 {
		printTranscript(s.out, st.Transcript)
	}
}

func (s *chatSession) ask(ctx context.Context, question string) {
	ans, err := s.ws.SubmitQuestion(ctx, question)
	switch {
	case err == nil:
		fmt.Fprintln(s.out, green.Sprint("bot")+" "+ans)
	case errors.Is(err, workspace.ErrNoActiveDocument):
		fmt.Fprintln(s.out, yellow.Sprint("Select a document first (/docs, /use <id>) or upload one (/upload <file.pdf>)."))
	default:
		s.fail(err)
	}
}

func (s *chatSession) upload(ctx context.Context, path string) {
	if path == "" {
		fmt.Fprintln(s.out, "Usage: /upload <file.pdf>")
		return
	}
	f, err := readUpload(path)
	if err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintln(s.out, faint.Sprint("Uploading..."))
	doc, err := s.ws.Upload(ctx, f)
	if err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintf(s.out, "%s %s (%d pages, %s)\n", green.Sprint("Uploaded"), doc.Filename, doc.PageCount, formatFileSize(doc.FileSize))
}

func (s *chatSession) use(ctx context.Context, id string) {
	if err := s.ws.SelectDocument(ctx, id); err != nil {
		if errors.Is(err, registry.ErrUnknownDocument) {
			fmt.Fprintf(s.out, "Unknown document %q. /docs lists documents.\n", id)
			return
		}
		s.fail(err)
		return
	}
	s.showActive()
}

func (s *chatSession) delete(ctx context.Context, id string) {
	if id == "" {
		fmt.Fprintln(s.out, "Usage: /delete <id>")
		return
	}
	if err := s.ws.DeleteDocument(ctx, id); err != nil {
		s.fail(err)
		return
	}
	fmt.Fprintf(s.out, "%s document %s\n", green.Sprint("Deleted"), id)
}
