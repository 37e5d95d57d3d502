// Package app provides the command-line surface of the daydreamer memory
// gateway.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "daydreamer",
	DisableAutoGenTag: true,
	Short:             "Cloud-hosted MCP gateway over a graph memory store",
	Long: `daydreamer serves the Model Context Protocol over SSE in front of a
Neo4j-backed knowledge graph. Conversational clients register via OAuth,
open a session stream, and call the memory tools over JSON-RPC.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			if asJSON {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "daydreamer %s (commit %s, built %s)\n",
				info.Version, info.Commit, info.BuildDate)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
