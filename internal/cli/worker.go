package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ankittk/taskflow/internal/config"
	"github.com/ankittk/taskflow/internal/identity"
	"github.com/ankittk/taskflow/pkg/models"
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage registered worker profiles",
	}
	cmd.AddCommand(newWorkerRegisterCmd())
	cmd.AddCommand(newWorkerWhoamiCmd())
	cmd.AddCommand(newWorkerListCmd())
	return cmd
}

func newWorkerRegisterCmd() *cobra.Command {
	var name, role string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a worker profile so task commands can resolve its role",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			w := models.Worker{Name: name, Role: role}
			if err := identity.SaveWorker(home, &w); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", w.Name, w.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Worker name")
	cmd.Flags().StringVar(&role, "role", "", "Worker role (architect, engineer, quantity_surveyor, approver)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newWorkerWhoamiCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show a registered worker profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			w, err := identity.LoadWorker(home, name)
			if err != nil {
				return err
			}
			if w == nil {
				return fmt.Errorf("no registered profile for %q", name)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  role=%s\n", w.Name, w.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Worker name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newWorkerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered worker profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			workers, err := identity.ListWorkers(home)
			if err != nil {
				return err
			}
			if len(workers) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no workers registered")
				return nil
			}
			for _, w := range workers {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  role=%s\n", w.Name, w.Role)
			}
			return nil
		},
	}
}
