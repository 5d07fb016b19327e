package cmd

import (
	"echonote/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the echonote server",
	Long:  `Start the echonote HTTP and websocket server for collaborative note editing and voice transcription.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
