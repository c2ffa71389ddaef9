package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/marcus/offtask/internal/dateparse"
	"github.com/marcus/offtask/internal/input"
	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/output"
)

var addCmd = &cobra.Command{
	Use:     "add [title]",
	Aliases: []string{"create", "new"},
	Short:   "Add a task",
	Long: `Add a task to the local store. The change is queued for the remote API and
pushed right away when it is reachable.

With no title on an interactive terminal, a form asks for the fields.`,
	Example: `  offtask add "Buy milk" --priority high --category home
  offtask add "Write report" --due friday
  offtask add "Renew passport" --due "in 3 weeks"`,
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		in := models.TaskInput{Title: joinArgs(args)}
		desc, _ := cmd.Flags().GetString("description")
		if in.Description, err = input.ExpandValue(desc, cmd.InOrStdin()); err != nil {
			return err
		}
		priority, _ := cmd.Flags().GetString("priority")
		in.Priority = models.Priority(priority)
		in.Category, _ = cmd.Flags().GetString("category")
		due, _ := cmd.Flags().GetString("due")

		if in.Title == "" && isInteractive() {
			if err := runAddForm(&in, &due); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return nil
				}
				return fmt.Errorf("form: %w", err)
			}
		}

		dueDate, err := dateparse.ParseDueDate(due)
		if err != nil {
			return err
		}
		in.DueDate = dueDate

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		task, err := a.Tasks.Create(cmd.Context(), in)
		if err != nil {
			return err
		}

		autoSyncAfterMutation(cmd.Context(), a)
		if t, err := a.Tasks.Get(cmd.Context(), task.ID); err == nil {
			task = t
		}

		if handled, err := output.Emit(outputMode(), task); handled {
			return err
		}
		output.Success("CREATED %s", output.TaskOneLiner(task))
		return nil
	},
}

// runAddForm prompts for the task fields
func runAddForm(in *models.TaskInput, due *string) error {
	priority := string(in.Priority)
	if priority == "" {
		priority = string(models.PriorityMedium)
	}

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Validate(func(s string) error { return models.ValidateTitle(s) }).
				Value(&in.Title),
			huh.NewText().
				Title("Description").
				Description("Markdown is rendered by offtask show").
				Value(&in.Description),
			huh.NewSelect[string]().
				Title("Priority").
				Options(
					huh.NewOption("High", string(models.PriorityHigh)),
					huh.NewOption("Medium", string(models.PriorityMedium)),
					huh.NewOption("Low", string(models.PriorityLow)),
				).
				Value(&priority),
			huh.NewInput().
				Title("Category").
				Placeholder(models.DefaultCategory).
				Value(&in.Category),
			huh.NewInput().
				Title("Due").
				Description("YYYY-MM-DD, +3d, friday, next week...").
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return nil
					}
					_, err := dateparse.ParseDate(s)
					return err
				}).
				Value(due),
		),
	).Run()
	if err != nil {
		return err
	}
	in.Priority = models.Priority(priority)
	return nil
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringP("description", "d", "", "description (markdown); - reads stdin, @file reads a file")
	addCmd.Flags().StringP("priority", "p", "", "priority: low, medium, high (default medium)")
	addCmd.Flags().StringP("category", "c", "", "category (default general)")
	addCmd.Flags().String("due", "", "due date: YYYY-MM-DD, +3d, today, friday, \"in 2 weeks\"")
}
