package ollama

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady makes sure the server at c answers and has model, pulling it
// when it is missing. Progress goes to w.
func EnsureReady(ctx context.Context, c *Client, model string, w io.Writer) error {
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("ollama is not running at %s (start it with: ollama serve): %w", c.baseURL, err)
	}
	ok, err := c.HasModel(ctx, model)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := c.Pull(ctx, model, func(p PullProgress) {
			if pct := p.Percent(); pct >= 0 {
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
				return
			}
			fmt.Fprintf(w, "  %s\n", p.Status)
		})
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}
