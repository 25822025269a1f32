package main

import (
	"fmt"
	"os"

	"chat_stream_service/internal/stream/client"
	"chat_stream_service/internal/stream/reconcile"
	"chat_stream_service/internal/stream/scroll"
	"chat_stream_service/internal/stream/view"
	"chat_stream_service/pkg/config"
	"chat_stream_service/pkg/logger"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Flag variables.
var (
	cfgPath        string
	debug          bool
	conversationID string

	cfg config.Client
)

// Execute run the root command, called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "chat_client",
	Short:             "Terminal client for chat conversations",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.EnvConfig.ChatClientYAMLPath,
		"Directory holding chat_client.yaml.")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false,
		"Print debug logs to stderr.")
	rootCmd.PersistentFlags().StringVarP(&conversationID, "conversation", "C", "",
		"Conversation id to open.")

	rootCmd.AddCommand(openCmd, sendCmd)
}

// setup logger and config shared by every sub command
func setup(cmd *cobra.Command, args []string) error {
	logger.Log = logger.InitializeConsole(config.EnvConfig.ChatClient, debug)

	c, err := config.LoadConfig[config.Client](config.EnvConfig.ChatClient, cfgPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if c.Token == "" {
		return errors.New("token is required in the client config")
	}
	if conversationID == "" {
		return errors.New("--conversation is required")
	}
	cfg = c
	return nil
}

func newStore() *client.HTTPStore {
	return client.NewHTTPStore(cfg.BaseURL, cfg.Token, nil).WithTimeout(cfg.Timeout)
}

func identity() reconcile.Identity {
	return reconcile.Identity{
		ProfileID: cfg.ProfileID,
		Username:  cfg.Username,
		Avatar:    cfg.Avatar,
	}
}

func viewOptions(s config.Stream) view.Options {
	// the terminal viewport measures rows, not pixels
	away, edge := s.AwayThresholdPx, s.LiveEdgeThresholdPx
	if away <= 0 {
		away = 3
	}
	if edge <= 0 {
		edge = 1
	}
	return view.Options{
		PageSize:   s.PageSize,
		MaxOrphans: s.MaxOrphanEvents,
		Scroll: scroll.Config{
			Debounce:          s.ScrollDebounce,
			ImageFallback:     s.ImageSettleTimeout,
			AwayThreshold:     away,
			LiveEdgeThreshold: edge,
		},
		TypingExpiry:   s.TypingExpiry,
		TypingThrottle: s.TypingThrottle,
	}
}
