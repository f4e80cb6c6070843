package cli

import (
	"fmt"
	"io"

	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/poller"
)

// progressPrinter печатает ProcessingProgress построчно.
// Повторяющиеся значения (тот же процент и стадия) не печатаются.
type progressPrinter struct {
	w    io.Writer
	last model.ProcessingProgress
	seen bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

// Print — model.ProgressFunc.
func (p *progressPrinter) Print(pp model.ProcessingProgress) {
	if p.seen && pp.Stage == p.last.Stage && pp.Progress == p.last.Progress && pp.Message == p.last.Message {
		return
	}
	p.last, p.seen = pp, true

	line := fmt.Sprintf("[%-12s] %3d%%", pp.Stage, pp.Progress)
	if pp.Message != "" {
		line += "  " + pp.Message
	}
	if pp.Stage == model.StageTranscribing && pp.RemainingSeconds > 0 {
		line += fmt.Sprintf("  (~%ds)", pp.RemainingSeconds)
	}
	_, _ = fmt.Fprintln(p.w, line)
}

// printOutcome печатает итог ожидания. Возвращает ошибку для неуспешных итогов.
func printOutcome(w io.Writer, out poller.Outcome) error {
	switch out.Kind {
	case poller.KindCompleted, poller.KindPartial:
		_, _ = fmt.Fprintf(w, "%s\nMeeting: %s\n", out.Message, out.MeetingID)
		return nil
	case poller.KindTimedOut, poller.KindCancelled:
		_, _ = fmt.Fprintf(w, "%s\nПроверить позже: smartact status %s\n", out.Message, out.MeetingID)
		return nil
	default:
		return fmt.Errorf("%s", out.Message)
	}
}
