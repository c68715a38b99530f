package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/xiaot623/gogo/autopilot/internal/annotate"
)

// previewClient follows a project's annotation channel from the terminal.
type previewClient struct {
	conn    *websocket.Conn
	surface *annotate.Surface
	out     io.Writer
}

func dialPreview(ctx context.Context, addr string, out io.Writer) (*previewClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	c := &previewClient{conn: conn, out: out}
	c.surface = annotate.NewSurface(annotate.WithWarn(func(msg string, args ...any) {
		fmt.Fprintln(out, errorStyle.Render("warning: ")+msg)
	}))
	return c, nil
}

// Close closes the connection.
func (c *previewClient) Close() error {
	return c.conn.Close()
}

// readLoop prints every change to the overlay until the connection ends.
func (c *previewClient) readLoop() error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if !c.surface.Handle(data) {
			continue
		}
		ts := dimStyle.Render(time.Now().Format("15:04:05"))
		if o, ok := c.surface.Current(); ok {
			fmt.Fprintf(c.out, "%s %s %s\n", ts, curStyle.Render(o.Label), o.Selector)
		} else {
			fmt.Fprintf(c.out, "%s %s\n", ts, dimStyle.Render("cleared"))
		}
	}
}

func newPreviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <project>",
		Short: "Print the annotations a run sends to the project's preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := a.client().PreviewURL(args[0])
			client, err := dialPreview(cmd.Context(), addr, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer client.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s\n", addr)

			done := make(chan error, 1)
			go func() { done <- client.readLoop() }()

			select {
			case err := <-done:
				return err
			case <-cmd.Context().Done():
				client.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return nil
			}
		},
	}
}
