package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/smartact/internal/apiclient"
	"github.com/bigkaa/smartact/internal/domain/model"
)

func newActionsCommand(a *app) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "actions MEETING_ID",
		Short: "Действия, извлечённые из Meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.client.MeetingActions(cmd.Context(), args[0], limit, offset)
			if err != nil {
				return err
			}
			return printActions(a.out, list)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "размер страницы")
	cmd.Flags().IntVar(&offset, "offset", 0, "смещение")
	return cmd
}

func newActionCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Операции с действием",
	}

	var (
		note   string
		notify bool
	)
	status := &cobra.Command{
		Use:   "status ACTION_ID STATUS",
		Short: "Изменить статус: not_started, in_progress, completed, on_hold, cancelled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			act, err := a.client.UpdateStatus(cmd.Context(), args[0], model.ActionStatus(args[1]), note, notify)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.out, "Действие %s: %s\n", act.ID, act.Status)
			return nil
		},
	}
	status.Flags().StringVar(&note, "note", "", "комментарий к переходу")
	status.Flags().BoolVar(&notify, "notify", false, "уведомить наблюдателей (для completed)")

	cmd.AddCommand(status)
	return cmd
}

// printActions печатает список действий таблицей.
func printActions(w io.Writer, list *apiclient.ActionList) error {
	if len(list.Items) == 0 {
		_, err := fmt.Fprintln(w, "Действий нет")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSCORE\tREVIEW\tSTATUS\tASSIGNEE\tACTION")
	for _, it := range list.Items {
		assignee := "-"
		if it.Assignee != nil {
			assignee = *it.Assignee
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%t\t%s\t%s\t%s\n",
			it.ID, it.ValidationScore, it.RequiresReview, it.Status, assignee, it.ActionText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Показано %d из %d\n", len(list.Items), list.Total)
	return err
}
