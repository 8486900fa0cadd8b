package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ankittk/taskflow/internal/config"
	"github.com/ankittk/taskflow/internal/store"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify the local data directory and store",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			var problems []string

			// The store opens lazily elsewhere; doctor opens it eagerly so a
			// corrupt database or unwritable home fails loudly here.
			st, err := store.Open(home)
			if err != nil {
				problems = append(problems, fmt.Sprintf("cannot open store under %s: %v", home, err))
			} else {
				if _, err := st.CountTasksByStatus(cmd.Context()); err != nil {
					problems = append(problems, fmt.Sprintf("store query failed: %v", err))
				}
				_ = st.Close()
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}
