package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ankittk/taskflow/internal/config"
	"github.com/ankittk/taskflow/internal/identity"
	"github.com/ankittk/taskflow/internal/notify"
	"github.com/ankittk/taskflow/internal/store"
	"github.com/ankittk/taskflow/internal/workflow"
	"github.com/ankittk/taskflow/pkg/models"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage workflow tasks",
	}
	cmd.AddCommand(newTaskCreateCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskAssignCmd())
	cmd.AddCommand(newTaskClaimCmd())
	cmd.AddCommand(newTaskSubmitCmd())
	cmd.AddCommand(newTaskApproveCmd())
	cmd.AddCommand(newTaskRejectCmd())
	cmd.AddCommand(newTaskReassignCmd())
	cmd.AddCommand(newTaskHistoryCmd())
	return cmd
}

// addActorFlags registers the --as/--role pair every task subcommand needs.
func addActorFlags(cmd *cobra.Command, name, role *string) {
	cmd.Flags().StringVar(name, "as", "", "Acting worker name")
	cmd.Flags().StringVar(role, "role", "", "Acting worker role (default: from registered worker profile)")
	_ = cmd.MarkFlagRequired("as")
}

// resolveActor builds the acting worker from flags, falling back to the
// registered member profile for the role.
func resolveActor(home, name, role string) (models.Worker, error) {
	if name == "" {
		return models.Worker{}, fmt.Errorf("--as is required")
	}
	if role == "" {
		w, err := identity.LoadWorker(home, name)
		if err != nil {
			return models.Worker{}, err
		}
		if w == nil {
			return models.Worker{}, fmt.Errorf("no registered profile for %q; pass --role or run: taskflow worker register", name)
		}
		role = w.Role
	}
	if !models.ValidRole(role) {
		return models.Worker{}, fmt.Errorf("unknown role %q", role)
	}
	return models.Worker{Name: name, Role: role}, nil
}

// openEngine opens the local store and wires an engine with a logging notifier.
func openEngine(home string) (*workflow.Engine, store.Store, error) {
	st, err := store.Open(home)
	if err != nil {
		return nil, nil, err
	}
	reg := notify.NewRegistry()
	reg.Register(notify.SlogSink{})
	return &workflow.Engine{Store: st, Notifier: reg}, st, nil
}

func printTask(cmd *cobra.Command, t *store.Task) {
	assignee := "-"
	if t.AssignedTo != nil {
		assignee = *t.AssignedTo
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "task %d  %s  assignee=%s  ref=%s\n", t.TaskID, t.Status, assignee, t.SubmissionRef)
}

func newTaskCreateCmd() *cobra.Command {
	var actorName, actorRole, submissionRef string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task from an intake submission reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			actor, err := resolveActor(home, actorName, actorRole)
			if err != nil {
				return err
			}
			eng, st, err := openEngine(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			task, err := eng.Create(cmd.Context(), submissionRef, actor)
			if err != nil {
				return err
			}
			printTask(cmd, task)
			return nil
		},
	}
	addActorFlags(cmd, &actorName, &actorRole)
	cmd.Flags().StringVar(&submissionRef, "ref", "", "Intake submission reference")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var actorName, actorRole string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks visible to the acting worker (mine + poolable at my role)",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			actor, err := resolveActor(home, actorName, actorRole)
			if err != nil {
				return err
			}
			eng, st, err := openEngine(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			tasks, err := eng.ListTasks(cmd.Context(), actor)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no tasks")
				return nil
			}
			for i := range tasks {
				printTask(cmd, &tasks[i])
			}
			return nil
		},
	}
	addActorFlags(cmd, &actorName, &actorRole)
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	var actorName, actorRole string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one task",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			actor, err := resolveActor(home, actorName, actorRole)
			if err != nil {
				return err
			}
			eng, st, err := openEngine(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			task, err := eng.GetTask(cmd.Context(), taskID, actor)
			if err != nil {
				return err
			}
			printTask(cmd, task)
			ds, err := st.ListDeliverables(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			for _, d := range ds {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  deliverable %s  %s  by=%s  ref=%s\n", d.DeliverableID, d.Kind, d.UploadedBy, d.ContentRef)
			}
			return nil
		},
	}
	addActorFlags(cmd, &actorName, &actorRole)
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newTaskAssignCmd() *cobra.Command {
	var actorName, actorRole, role string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Route a fresh task into a role's pool (approver only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			actor, err := resolveActor(home, actorName, actorRole)
			if err != nil {
				return err
			}
			eng, st, err := openEngine(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			task, err := eng.AssignToRole(cmd.Context(), taskID, role, actor)
			if err != nil {
				return err
			}
			printTask(cmd, task)
			return nil
		},
	}
	addActorFlags(cmd, &actorName, &actorRole)
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().StringVar(&role, "to-role", "", "Target role (architect or engineer)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("to-role")
	return cmd
}

func newTaskClaimCmd() *cobra.Command {
	var actorName, actorRole string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim an unassigned pool task",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			actor, err := resolveActor(home, actorName, actorRole)
			if err != nil {
				return err
			}
			eng, st, err := openEngine(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			task, err := eng.Claim(cmd.Context(), taskID, actor)
			if err != nil {
				return err
			}
			printTask(cmd, task)
			return nil
		},
	}
	addActorFlags(cmd, &actorName, &actorRole)
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newTaskSubmitCmd() *cobra.Command {
	var actorName, actorRole, kind, contentRef string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a deliverable against an assigned task",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			actor, err := resolveActor(home, actorName, actorRole)
			if err != nil {
				return err
			}
			eng, st, err := openEngine(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			task, err := eng.SubmitDeliverable(cmd.Context(), taskID, kind, contentRef, actor)
			if err != nil {
				return err
			}
			printTask(cmd, task)
			return nil
		},
	}
	addActorFlags(cmd, &actorName, &actorRole)
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().StringVar(&kind, "kind", "", "Deliverable kind (architect_design, engineer_design, quotation, revision)")
	cmd.Flags().StringVar(&contentRef, "content-ref", "", "Reference to the stored document")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("content-ref")
	return cmd
}

func newTaskApproveCmd() *cobra.Command {
	var actorName, actorRole string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve a task under review (approver only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			actor, err := resolveActor(home, actorName, actorRole)
			if err != nil {
				return err
			}
			eng, st, err := openEngine(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			task, err := eng.Approve(cmd.Context(), taskID, actor)
			if err != nil {
				return err
			}
			printTask(cmd, task)
			return nil
		},
	}
	addActorFlags(cmd, &actorName, &actorRole)
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newTaskRejectCmd() *cobra.Command {
	var actorName, actorRole, reason string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "reject",
		Short: "Reject a task under review, returning it to its author (approver only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			actor, err := resolveActor(home, actorName, actorRole)
			if err != nil {
				return err
			}
			eng, st, err := openEngine(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			task, err := eng.Reject(cmd.Context(), taskID, reason, actor)
			if err != nil {
				return err
			}
			printTask(cmd, task)
			return nil
		},
	}
	addActorFlags(cmd, &actorName, &actorRole)
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().StringVar(&reason, "reason", "", "Rejection reason")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newTaskReassignCmd() *cobra.Command {
	var actorName, actorRole, assignee string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "reassign",
		Short: "Change a task's current assignee without changing stage (approver only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			actor, err := resolveActor(home, actorName, actorRole)
			if err != nil {
				return err
			}
			eng, st, err := openEngine(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			task, err := eng.Reassign(cmd.Context(), taskID, assignee, actor)
			if err != nil {
				return err
			}
			printTask(cmd, task)
			return nil
		},
	}
	addActorFlags(cmd, &actorName, &actorRole)
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().StringVar(&assignee, "to", "", "New assignee worker name")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newTaskHistoryCmd() *cobra.Command {
	var actorName, actorRole string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show a task's full audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			actor, err := resolveActor(home, actorName, actorRole)
			if err != nil {
				return err
			}
			eng, st, err := openEngine(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			entries, err := eng.ListAuditLog(cmd.Context(), taskID, actor)
			if err != nil {
				return err
			}
			for _, e := range entries {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %-22s  %s -> %s  by %s  %s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.Action, e.FromStatus, e.ToStatus, e.Actor, e.Detail)
			}
			return nil
		},
	}
	addActorFlags(cmd, &actorName, &actorRole)
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
