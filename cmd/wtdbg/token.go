package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wtdbg/wtdbg/internal/control"
)

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <secret>",
		Short: "Issue a bearer token for the control API, signed with the given secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := control.IssueServiceToken(args[0])
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
}
