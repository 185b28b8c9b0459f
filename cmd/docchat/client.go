package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kalambet/docchat/internal/gateway"
	"github.com/kalambet/docchat/internal/pdftext"
	"github.com/kalambet/docchat/internal/registry"
	"github.com/kalambet/docchat/internal/workspace"
)

// newWorkspace builds an empty workspace talking to the configured backend.
// Tests replace it to point at an in-process server.
var newWorkspace = func() (*workspace.Workspace, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	gw := gateway.New(cfg.Gateway.BaseURL, cfg.Gateway.TimeoutDuration())
	backendURL = cfg.Gateway.BaseURL
	return workspace.New(gw, workspace.WithLogger(newLogger(cfg.Log, io.Discard))), nil
}

// backendURL is reported in connection hints.
var backendURL string

// openWorkspace returns a workspace with the document listing loaded.
func openWorkspace(ctx context.Context) (*workspace.Workspace, error) {
	ws, err := newWorkspace()
	if err != nil {
		return nil, err
	}
	if err := ws.LoadDocuments(ctx); err != nil {
		return nil, explain(err)
	}
	return ws, nil
}

// openDocument opens the workspace and makes id the active document.
func openDocument(ctx context.Context, id string) (*workspace.Workspace, error) {
	ws, err := openWorkspace(ctx)
	if err != nil {
		return nil, err
	}
	if err := ws.SelectDocument(ctx, id); err != nil {
		if errors.Is(err, registry.ErrUnknownDocument) {
			return nil, fmt.Errorf("unknown document %q (see: docchat docs list)", id)
		}
		return nil, err
	}
	return ws, nil
}

// explain adds a connection hint to failures that never reached the backend.
func explain(err error) error {
	var gerr *gateway.Error
	if errors.As(err, &gerr) && gerr.Status == 0 {
		where := backendURL
		if where == "" {
			where = "the configured gateway.base_url"
		}
		return fmt.Errorf("%w (is the backend running at %s? start one with: docchat serve)", err, where)
	}
	return err
}

// readUpload reads path and labels it with the media type sniffed from its
// content rather than trusting the extension.
func readUpload(path string) (workspace.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return workspace.File{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return workspace.File{
		Name:      filepath.Base(path),
		MediaType: pdftext.Sniff(data),
		Data:      data,
	}, nil
}
