package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tikhomirovv/voice-keyboard/internal/version"
)

func NewVersionCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(deps.Stdout, version.Full())
			return err
		},
	}
}
