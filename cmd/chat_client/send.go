package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chat_stream_service/internal/chat/domain"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	sendImage  string
	sendParent string
)

var sendCmd = &cobra.Command{
	Use:   "send [TEXT...]",
	Short: "Send one message and exit",
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendImage, "image", "i", "",
		"Path of an image to attach.")
	sendCmd.Flags().StringVarP(&sendParent, "reply", "r", "",
		"Id of the message being replied to.")
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store := newStore()

	req := domain.SendRequest{
		ConversationID: conversationID,
		SenderID:       cfg.ProfileID,
		SenderUsername: cfg.Username,
		SenderAvatar:   cfg.Avatar,
		Content:        strings.Join(args, " "),
	}
	if sendParent != "" {
		id, err := parseID(sendParent)
		if err != nil {
			return err
		}
		req.ParentID = &id
	}
	if sendImage != "" {
		body, err := os.ReadFile(sendImage)
		if err != nil {
			return errors.Wrap(err, "read image")
		}
		url, err := store.UploadAttachment(ctx, conversationID, filepath.Base(sendImage), body)
		if err != nil {
			return err
		}
		req.ImageURL = url
	}
	if err := req.Validate(); err != nil {
		return err
	}

	entry, err := store.SendMessage(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatEntry(*entry))
	return nil
}
