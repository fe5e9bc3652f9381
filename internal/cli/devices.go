package cli

import (
	"github.com/spf13/cobra"

	"github.com/tikhomirovv/voice-keyboard/internal/output"
)

func NewDevicesCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List input devices",
		Long:  "List input devices with the IDs accepted by 'voicekey record --device'. The default input is marked with *.",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := deps.Backend(deps.Config, deps.Logger)
			if err != nil {
				return err
			}
			defer backend.Terminate()

			devices, err := backend.Devices()
			if err != nil {
				return err
			}

			output.NewFormatter(deps.Stdout).DeviceList(devices)
			return nil
		},
	}

	return cmd
}
