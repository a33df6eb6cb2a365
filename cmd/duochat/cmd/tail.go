package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/spf13/cobra"
)

var (
	tailURL  string
	tailUser string
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Join the real-time channel as a user and print pushes",
	Long: `Open a websocket session, join as the given user and print every message
pushed to it until interrupted.

Example:
  duochat tail --url ws://localhost:8080/ws --user 1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return tail(ctx, tailURL, tailUser, cmd.OutOrStdout())
	},
}

type tailFrame struct {
	Type    string          `json:"type"`
	UserID  string          `json:"userId,omitempty"`
	Message *domain.Message `json:"message,omitempty"`
}

// tail runs one session until ctx is done or the server closes it. A normal
// or going-away close is not an error.
func tail(ctx context.Context, url, userID string, out io.Writer) error {
	if userID == "" {
		return errors.New("--user is required")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(tailFrame{Type: "join", UserID: userID}); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	go func() {
		<-ctx.Done()
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline)
		_ = ws.SetReadDeadline(deadline)
	}()

	for {
		var f tailFrame
		if err := ws.ReadJSON(&f); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch f.Type {
		case "joined":
			fmt.Fprintf(out, "joined as %s\n", f.UserID)
		case "newMessage":
			if f.Message == nil {
				continue
			}
			if err := json.NewEncoder(out).Encode(f.Message); err != nil {
				return err
			}
		default:
			fmt.Fprintf(out, "unexpected frame %q\n", f.Type)
		}
	}
}

func init() {
	tailCmd.Flags().StringVar(&tailURL, "url", "ws://localhost:8080/ws", "Websocket endpoint")
	tailCmd.Flags().StringVar(&tailUser, "user", "", "User id to join as")
	rootCmd.AddCommand(tailCmd)
}
