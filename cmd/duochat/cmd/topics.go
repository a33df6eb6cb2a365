package cmd

import (
	"fmt"
	"strings"

	_ "github.com/nfrund/duochat/internal/events" // registers the bus topics
	"github.com/nfrund/duochat/internal/topicmgr"
	"github.com/spf13/cobra"
)

var (
	topicsFormat string
	topicsScope  string
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the event bus topics",
	Long: `List every topic published on the event bus with its scope, owning module
and payload example.

Examples:
  duochat topics
  duochat topics --scope framework
  duochat topics --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(topicsFormat); err != nil {
			return err
		}
		topics, err := listTopics(topicmgr.Default(), topicsScope)
		if err != nil {
			return err
		}
		return printTopics(cmd.OutOrStdout(), topicsFormat, topics)
	},
}

func listTopics(m *topicmgr.Manager, scope string) ([]topicmgr.Topic, error) {
	switch strings.ToLower(scope) {
	case "":
		return m.List(), nil
	case string(topicmgr.ScopeFramework):
		return m.ListByScope(topicmgr.ScopeFramework), nil
	case string(topicmgr.ScopeModule):
		return m.ListByScope(topicmgr.ScopeModule), nil
	default:
		return nil, fmt.Errorf("invalid scope %q, valid scopes: framework, module", scope)
	}
}

func init() {
	topicsCmd.Flags().StringVarP(&topicsFormat, "format", "f", formatTable, "Output format (table, json)")
	topicsCmd.Flags().StringVarP(&topicsScope, "scope", "s", "", "Filter topics by scope (framework, module)")
	rootCmd.AddCommand(topicsCmd)
}
