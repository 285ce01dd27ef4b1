package main

import (
	"realtime-board/internal/client"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var url string

	cmd := &cobra.Command{
		Use:          "board-client",
		Short:        "Chat on a board relay from the terminal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := tea.NewProgram(client.NewModel(url))
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:1337/ws", "relay WebSocket URL")

	if err := cmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("board client failed")
	}
}
