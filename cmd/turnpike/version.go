package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"mercator-hq/turnpike/pkg/cli"
	"mercator-hq/turnpike/pkg/telemetry/health"
)

// Build metadata, set with -ldflags "-X main.Version=...".
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var versionFlags struct {
	short  bool
	output string
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the build version, commit and Go runtime.

The JSON form matches the gateway's /version endpoint.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		info := health.NewVersionInfo(Version, GitCommit, BuildDate)

		if versionFlags.short {
			fmt.Fprintln(out, info.Version)
			return nil
		}

		format, err := cli.ParseFormat(versionFlags.output)
		if err != nil {
			return err
		}
		if format == cli.FormatJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}

		fmt.Fprintf(out, "Turnpike %s\n", info.Version)
		fmt.Fprintf(out, "  commit:   %s\n", info.Commit)
		fmt.Fprintf(out, "  built:    %s\n", info.BuildTime)
		fmt.Fprintf(out, "  go:       %s %s/%s\n", info.GoVersion, runtime.GOOS, runtime.GOARCH)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().BoolVar(&versionFlags.short, "short", false, "print only the version number")
	versionCmd.Flags().StringVarP(&versionFlags.output, "output", "o", "text", "output format (text, json)")
}
