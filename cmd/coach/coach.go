// Package coachcmder wires the coach CLI commands.
package coachcmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/coach/cmd/coach/chat"
	configcmder "github.com/papercomputeco/coach/cmd/coach/config"
	initcmder "github.com/papercomputeco/coach/cmd/coach/init"
	servecmder "github.com/papercomputeco/coach/cmd/coach/serve"
	versioncmder "github.com/papercomputeco/coach/cmd/version"
)

const coachLongDesc string = `Coach is a conversational fitness coach for your terminal.

Chat with your coach, pick up where you left off, and review plan proposals:
  coach chat           Start or resume a conversation
  coach serve          Run the coach server (transcripts + completions)
  coach config         Manage persistent configuration`

const coachShortDesc string = "Coach - conversational fitness coaching"

func NewCoachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "coach",
		Short:        coachShortDesc,
		Long:         coachLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .coach/ directory")

	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
