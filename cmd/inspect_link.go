package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/guppy/internal/inspect"
)

func inspectLinkCmd() *cobra.Command {
	var baseURL, secret string

	cmd := &cobra.Command{
		Use:   "inspect-link <threadId>",
		Short: "Print the signed inspect URL for a thread ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" || secret == "" {
				return fmt.Errorf("guppy inspect-link: --base-url and --secret are both required")
			}
			signer := inspect.New(baseURL, secret)
			fmt.Fprintln(cmd.OutOrStdout(), signer.URL(args[0]))
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "inspect front-end base URL")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC signing secret")
	return cmd
}
