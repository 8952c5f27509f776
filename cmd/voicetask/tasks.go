package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/voicetask/internal/language"
	"github.com/GriffinCanCode/voicetask/internal/render"
	"github.com/GriffinCanCode/voicetask/internal/session"
)

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List and manage saved tasks",
	}
	cmd.AddCommand(tasksListCmd())
	cmd.AddCommand(tasksDeleteCmd())
	cmd.AddCommand(tasksClearCmd())
	cmd.AddCommand(tasksExportCmd())
	return cmd
}

func tasksListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), func(sess *session.Session) error {
				records, err := sess.Tasks()
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(render.View(records))
				}
				return render.Text(cmd.OutOrStdout(), records)
			})
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func tasksDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <index>",
		Short: "Delete the task at index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[0])
			}
			return withSession(cmd.Context(), func(sess *session.Session) error {
				removed, err := sess.DeleteTask(cmd.Context(), i)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted: %s\n", removed.Description)
				return nil
			})
		},
	}
}

func tasksClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), func(sess *session.Session) error {
				records, err := sess.Tasks()
				if err != nil {
					return err
				}
				question := render.ConfirmClear(language.MajorityLanguage(records))
				if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), question) {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing deleted.")
					return nil
				}
				if err := sess.ClearTasks(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d tasks.\n", len(records))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func tasksExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print all tasks as plain text for pasting elsewhere",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), func(sess *session.Session) error {
				records, err := sess.Tasks()
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), render.Clipboard(records))
				return err
			})
		},
	}
}

// confirm asks question and accepts y/yes (or the Dutch j/ja).
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "j", "ja":
		return true
	}
	return false
}
