package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bantz-ai/bantz/internal/domain/reminder"
)

// newRemindersCmd groups direct reminder store operations, bypassing the
// turn runtime entirely — useful for scripting and recovery when a turn
// never got the chance to schedule or cancel something.
func newRemindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "manage reminders directly",
	}
	cmd.AddCommand(newReminderAddCmd(), newReminderListCmd(), newReminderDeleteCmd(), newReminderSnoozeCmd())
	return cmd
}

func newReminderAddCmd() *cobra.Command {
	var repeat string
	cmd := &cobra.Command{
		Use:   "add <when> <message>",
		Short: "schedule a reminder; when accepts Turkish phrases or shorthand like 30m",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, log, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			defer log.Sync()

			when, err := reminder.ParseWhen(time.Now(), args[0])
			if err != nil {
				return newUsageError("could not parse %q: %w", args[0], err)
			}
			message := args[1]
			for _, extra := range args[2:] {
				message += " " + extra
			}

			r := &reminder.Reminder{
				ID:             uuid.NewString(),
				Message:        message,
				RemindAt:       when,
				CreatedAt:      time.Now(),
				Status:         reminder.StatusPending,
				RepeatInterval: repeat,
			}
			if err := rt.Reminders.Add(cmd.Context(), r); err != nil {
				return fmt.Errorf("add: %w", err)
			}
			fmt.Printf("scheduled %s for %s\n", r.ID, r.RemindAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&repeat, "repeat", "", "recurrence, e.g. daily or 1d; empty for one-off")
	return cmd
}

func newReminderListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every reminder",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, log, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			defer log.Sync()

			reminders, err := rt.Reminders.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			for _, r := range reminders {
				fmt.Printf("%s\t%s\t%s\t%s\n", r.ID, r.Status, r.DueAt().Format(time.RFC3339), r.Message)
			}
			return nil
		},
	}
}

func newReminderDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "delete a reminder by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, log, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			defer log.Sync()

			if err := rt.Reminders.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			fmt.Println("deleted")
			return nil
		},
	}
}

func newReminderSnoozeCmd() *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "snooze <id>",
		Short: "snooze a reminder by N minutes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if minutes <= 0 {
				return newUsageError("--minutes must be positive, got %d", minutes)
			}
			rt, log, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			defer log.Sync()

			until := time.Now().Add(time.Duration(minutes) * time.Minute)
			if err := rt.Reminders.Snooze(cmd.Context(), args[0], until); err != nil {
				return fmt.Errorf("snooze: %w", err)
			}
			fmt.Printf("snoozed until %s\n", until.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 10, "minutes to snooze")
	return cmd
}
