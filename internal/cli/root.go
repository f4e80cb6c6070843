// Пакет cli — команды smartact: загрузка записи с отображением прогресса,
// очередь проверки и статусы действий.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/smartact/internal/apiclient"
	"github.com/bigkaa/smartact/internal/config"
)

// app — общее состояние команд, заполняется в PersistentPreRunE.
type app struct {
	configPath string
	serverURL  string
	token      string
	verbose    bool

	cfg    *Config
	client *apiclient.Client
	logger *slog.Logger
	out    io.Writer
}

// NewRootCommand создаёт корневую команду smartact.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:           "smartact",
		Short:         "Клиент pipeline-module: записи встреч и SMART-действия",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init(errOut)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", DefaultConfigPath(), "путь к config.toml")
	flags.StringVar(&a.serverURL, "server", "", "URL pipeline-module (переопределяет server_url)")
	flags.StringVar(&a.token, "token", "", "JWT (переопределяет token)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "отладочный вывод в stderr")

	root.AddCommand(
		newUploadCommand(a),
		newStatusCommand(a),
		newActionsCommand(a),
		newReviewCommand(a),
		newActionCommand(a),
	)
	return root
}

func (a *app) init(errOut io.Writer) error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.serverURL != "" {
		cfg.ServerURL = a.serverURL
	}
	if a.token != "" {
		cfg.Token = a.token
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.client = apiclient.New(cfg.ServerURL, cfg.Token, cfg.Timeout.Duration, a.logger)
	return nil
}

// Execute запускает CLI и возвращает код завершения.
func Execute(ctx context.Context) int {
	root := NewRootCommand(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		root.PrintErrln("Ошибка:", err)
		return 1
	}
	return 0
}
