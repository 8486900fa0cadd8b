package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ankittk/taskflow/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "taskflow",
		Short:        "Taskflow — engineering task workflow engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override Taskflow home directory (default: ~/.taskflow, env: TASKFLOW_HOME)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newDoctorCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
