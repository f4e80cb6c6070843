package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/smartact/internal/domain/model"
)

func newReviewCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Очередь проверки извлечённых действий",
	}
	cmd.AddCommand(
		newReviewListCommand(a),
		newReviewConfirmCommand(a),
		newReviewRejectCommand(a),
		newReviewConfirmAllCommand(a),
	)
	return cmd
}

func newReviewListCommand(a *app) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Действия, ожидающие проверки (новые первыми)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := a.client.ReviewQueue(cmd.Context(), limit, offset)
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

func newReviewConfirmCommand(a *app) *cobra.Command {
	var (
		text, assignee, due, category, note string
		priority                            int
	)
	cmd := &cobra.Command{
		Use:   "confirm ACTION_ID",
		Short: "Подтвердить действие, при необходимости с правками",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			edits := &model.ActionEdits{}
			flags := cmd.Flags()
			if flags.Changed("text") {
				edits.ActionText = &text
			}
			if flags.Changed("assignee") {
				edits.Assignee = &assignee
			}
			if flags.Changed("due") {
				edits.DueContext = &due
			}
			if flags.Changed("category") {
				edits.Category = &category
			}
			if flags.Changed("priority") {
				edits.Priority = &priority
			}

			act, err := a.client.Confirm(cmd.Context(), args[0], edits, note)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.out, "Действие %s подтверждено (score %d)\n", act.ID, act.ValidationScore)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&text, "text", "", "новый текст действия")
	f.StringVar(&assignee, "assignee", "", "исполнитель")
	f.StringVar(&due, "due", "", "срок")
	f.StringVar(&category, "category", "", "категория")
	f.IntVar(&priority, "priority", 0, "приоритет (>= 1)")
	f.StringVar(&note, "note", "", "комментарий")
	return cmd
}

func newReviewRejectCommand(a *app) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "reject ACTION_ID",
		Short: "Отклонить действие (удаляется, решение сохраняется в журнале)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.Reject(cmd.Context(), args[0], note); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.out, "Действие %s отклонено\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "причина")
	return cmd
}

func newReviewConfirmAllCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm-all",
		Short: "Подтвердить всю очередь проверки",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.client.ConfirmAll(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.out, "Подтверждено: %d\n", len(res.Confirmed))
			for _, f := range res.Failed {
				_, _ = fmt.Fprintf(a.out, "  %s: %s\n", f.ActionID, f.Error)
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("не удалось подтвердить %d действий", len(res.Failed))
			}
			return nil
		},
	}
}
