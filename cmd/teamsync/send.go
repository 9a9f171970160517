package main

import (
	"fmt"
	"html"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync"
)

func init() {
	addTargetFlags(sendCmd)
	sendCmd.Flags().String("thread", "", "reply in the thread of this message id")
	sendCmd.Flags().Bool("html", false, "send the text as HTML instead of escaping it")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send [text...]",
	Short: "Post a message to a channel, conversation or thread",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	kind, id, err := target(cmd)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("one of --channel or --conversation is required")
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	content := strings.Join(args, " ")
	if raw, _ := cmd.Flags().GetBool("html"); !raw {
		content = "<p>" + html.EscapeString(content) + "</p>"
	}

	ctx := cmd.Context()
	s := teamsync.NewSession(cfg, teamsync.WithLogger(teamsync.NewZapLogger(log)))
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = s.Stop() }()

	if err := s.Open(ctx, kind, id); err != nil {
		return err
	}
	if thread, _ := cmd.Flags().GetString("thread"); thread != "" {
		if err := s.OpenThread(ctx, thread); err != nil {
			return err
		}
		return s.SendThread(ctx, content)
	}
	return s.Send(ctx, content)
}
