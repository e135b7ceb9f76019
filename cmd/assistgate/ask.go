package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"assistgate/internal/orchestrator"
)

func newAskCmd(load configLoader) *cobra.Command {
	var (
		action string
		userID string
	)

	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Run one request through an in-process orchestrator",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := orchestrator.ParseAction(action); err != nil {
				return err
			}

			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(true); err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.orchestrator.Process(ctx, orchestrator.Request{
				Action: action,
				Prompt: strings.Join(args, " "),
				UserID: userID,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Output)
			return err
		},
	}

	cmd.Flags().StringVarP(&action, "action", "a", string(orchestrator.ActionCachedCompute), "direct-compute or cached-compute")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "record the exchange in this user's session")
	return cmd
}
