package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	server  string
	grpc    string
	token   string
	timeout time.Duration
	noColor bool
}

func (o *globalOptions) client() *APIClient {
	return NewAPIClient(o.server, o.token, o.timeout)
}

// RootCmd builds the stagectl command tree.
func RootCmd(version string) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:     "stagectl",
		Short:   "Control OpenStageCore stages",
		Version: version,
		Long: `stagectl talks to a running OpenStageCore server. Positions are whole
motor steps in the program frame, that is after axis inversion.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				disableColor()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("OSC_SERVER", "http://localhost:8080"), "REST API base URL")
	flags.StringVar(&opts.grpc, "grpc", envOr("OSC_GRPC", "localhost:50051"), "gRPC address used by watch")
	flags.StringVar(&opts.token, "token", os.Getenv("OSC_TOKEN"), "access or API token")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "request timeout, covers the whole move")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(listCmd(opts))
	root.AddCommand(positionCmd(opts))
	root.AddCommand(moveCmd(opts, "move-rel"))
	root.AddCommand(moveCmd(opts, "move-abs"))
	root.AddCommand(invertCmd(opts))
	root.AddCommand(zeroCmd(opts))
	root.AddCommand(xyzCmd(opts))
	root.AddCommand(movesCmd(opts))
	root.AddCommand(watchCmd(opts))
	root.AddCommand(loginCmd(opts))

	// Local tools
	root.AddCommand(hashPasswordCmd())
	root.AddCommand(genTokenCmd())

	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
