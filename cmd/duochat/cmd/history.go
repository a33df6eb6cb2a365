package cmd

import (
	"context"

	"github.com/nfrund/duochat/internal/domain"
	"github.com/spf13/cobra"
)

var historyFormat string

var historyCmd = &cobra.Command{
	Use:   "history <userA> <userB>",
	Short: "Print the conversation between two users",
	Long: `Print every message exchanged between two users, oldest first. The order
of the two ids does not matter.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(historyFormat); err != nil {
			return err
		}
		if err := domain.ValidateParticipants(args[0], args[1]); err != nil {
			return err
		}
		return withStore(cmd.Context(), func(ctx context.Context, store domain.Store) error {
			messages, err := store.ListConversation(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printMessages(cmd.OutOrStdout(), historyFormat, messages)
		})
	},
}

func init() {
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", formatTable, "Output format (table, json)")
	rootCmd.AddCommand(historyCmd)
}
