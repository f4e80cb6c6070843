package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bigkaa/smartact/internal/apiclient"
	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/domain/progress"
	"github.com/bigkaa/smartact/internal/poller"
)

func newUploadCommand(a *app) *cobra.Command {
	var (
		req    uploadFlags
		noWait bool
	)

	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Загрузить запись встречи и дождаться извлечения действий",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := a.client.Upload(cmd.Context(), req.toRequest(args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.out, "Meeting %s принята, оценка обработки ~%ds\n", sub.MeetingID, sub.EstimatedTotalSeconds)

			printer := newProgressPrinter(a.out)
			printer.Print(sub.Progress)
			if noWait {
				return nil
			}
			return a.wait(cmd.Context(), sub.Handle(), printer.Print)
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.title, "title", "", "название встречи")
	f.StringVar(&req.kind, "type", "", "тип встречи (meeting, voice_note, ...)")
	f.StringSliceVar(&req.participants, "participants", nil, "участники через запятую")
	f.StringVar(&req.context, "context", "", "контекст для извлечения")
	f.IntVar(&req.duration, "duration", 0, "длительность записи в секундах")
	f.BoolVar(&noWait, "no-wait", false, "не ждать завершения обработки")
	return cmd
}

type uploadFlags struct {
	title        string
	kind         string
	participants []string
	context      string
	duration     int
}

func (f uploadFlags) toRequest(path string) apiclient.UploadRequest {
	return apiclient.UploadRequest{
		FilePath:        path,
		Title:           f.title,
		Type:            f.kind,
		Participants:    f.participants,
		Context:         f.context,
		DurationSeconds: f.duration,
	}
}

// wait опрашивает задание до терминального статуса. Ctrl-C прекращает
// ожидание, обработка на сервере продолжается.
func (a *app) wait(ctx context.Context, handle model.JobHandle, onProgress model.ProgressFunc) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := poller.New(a.client, poller.Options{
		Interval:    a.cfg.PollInterval.Duration,
		MaxAttempts: a.cfg.MaxAttempts,
		Estimator:   progress.New(progress.DefaultMultiplier, progress.DefaultFallback),
		Logger:      a.logger,
	})
	out := p.Wait(ctx, handle, onProgress)
	return printOutcome(a.out, out)
}
