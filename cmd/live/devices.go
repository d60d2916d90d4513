package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-live/internal/log"
	"github.com/teslashibe/go-live/pkg/audioio"
)

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture and playback devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			devices, err := audioio.ListDevices(log.Component("audio"))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, d := range devices {
				kind := "playback"
				if d.Capture {
					kind = "capture"
				}
				def := ""
				if d.IsDefault {
					def = " (default)"
				}
				fmt.Fprintf(out, "%-8s  %s%s\n", kind, d.Name, def)
			}
			if len(devices) == 0 {
				fmt.Fprintln(out, "no audio devices found")
			}
			return nil
		},
	}
}
