package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"chat_stream_service/internal/chat/domain"
	"chat_stream_service/internal/stream/client"
	"chat_stream_service/internal/stream/view"
	"chat_stream_service/pkg/logger"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Stream a conversation and send the lines typed on stdin",
	Long: `Stream a conversation and send the lines typed on stdin.

Commands:
  /older               load older history
  /up N, /down N       scroll the viewport by N rows
  /read                mark everything read
  /refresh             catch up with the store
  /reply ID TEXT       reply to a message
  /edit ID TEXT        edit your message
  /delete ID           delete your message
  /react ID EMOJI      toggle a reaction
  /image PATH [TEXT]   send an image
  /quit`,
	Args: cobra.NoArgs,
	RunE: runOpen,
}

func runOpen(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pres := newTerminalPresenter(cmd.OutOrStdout(), cfg.Rows)
	refresh := make(chan struct{}, 1)
	bus := client.NewWSBus(cfg.WSURL, cfg.Token, client.BusOptions{
		OnReconnect: func() {
			select {
			case refresh <- struct{}{}:
			default:
			}
		},
	})
	defer bus.Close()

	v := view.New(conversationID, identity(), newStore(), bus, pres, viewOptions(cfg.Stream))
	defer v.Close()
	if err := v.Open(ctx); err != nil {
		return err
	}

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh:
			v.Focus()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, v, pres, line)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
	if err := sc.Err(); err != nil {
		logger.Log.Warn("stdin read failed", zap.Error(err))
	}
}

func parseID(s string) (domain.MessageID, error) {
	id, err := domain.ParseMessageID(s)
	if err != nil {
		return 0, errors.Errorf("invalid message id %q", s)
	}
	return id, nil
}

// handleLine run one stdin line, plain text is sent as a message
func handleLine(ctx context.Context, v *view.View, pres *terminalPresenter, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		v.Typing()
		_, err := v.Send(line, nil)
		return false, err
	}

	fields := strings.Fields(line)
	rest := func(n int) string {
		if len(fields) <= n {
			return ""
		}
		return strings.Join(fields[n:], " ")
	}

	switch fields[0] {
	case "/quit":
		return true, nil
	case "/older":
		if !v.LoadMore() {
			fmt.Fprintln(pres.out, "(nothing more to load)")
		}
	case "/up", "/down":
		n := 10.0
		if len(fields) > 1 {
			if _, err := fmt.Sscanf(fields[1], "%g", &n); err != nil {
				return false, errors.Errorf("invalid row count %q", fields[1])
			}
		}
		if fields[0] == "/up" {
			n = -n
		}
		pres.scrollBy(n)
		v.Scroll()
	case "/read":
		v.DismissUnread()
	case "/refresh":
		v.Focus()
	case "/reply", "/edit", "/delete", "/react":
		if len(fields) < 2 {
			return false, errors.Errorf("usage: %s ID ...", fields[0])
		}
		id, err := parseID(fields[1])
		if err != nil {
			return false, err
		}
		ok := true
		switch fields[0] {
		case "/reply":
			_, err = v.Send(rest(2), &id)
		case "/edit":
			ok = v.Edit(id, rest(2))
		case "/delete":
			ok = v.Delete(id)
		case "/react":
			ok = v.React(id, rest(2))
		}
		if err != nil {
			return false, err
		}
		if !ok {
			return false, errors.Errorf("%s %s rejected", fields[0], id)
		}
	case "/image":
		if len(fields) < 2 {
			return false, errors.New("usage: /image PATH [TEXT]")
		}
		body, err := os.ReadFile(fields[1])
		if err != nil {
			return false, errors.Wrap(err, "read image")
		}
		_, err = v.SendWithAttachment(ctx, rest(2), filepath.Base(fields[1]), body, nil)
		return false, err
	default:
		return false, errors.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}
