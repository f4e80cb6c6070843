package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/poller"
)

func newStatusCommand(a *app) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status MEETING_ID",
		Short: "Статус обработки Meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meetingID := args[0]
			if watch {
				printer := newProgressPrinter(a.out)
				return a.wait(cmd.Context(), model.JobHandle{MeetingID: meetingID, StartedAt: time.Now()}, printer.Print)
			}

			snap, err := a.client.Snapshot(cmd.Context(), "", meetingID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.out, "Meeting:     %s\nСтатус:      %s\nРасшифровка: %t\nДействий:    %d\n",
				meetingID, snap.Status, snap.HasTranscript, snap.ActionsCount)
			if out, terminal := poller.FromSnapshot(meetingID, snap); terminal && out.Kind != poller.KindCompleted {
				_, _ = fmt.Fprintf(a.out, "Итог:        %s\n", out.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "ждать завершения с отображением прогресса")
	return cmd
}
