package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flybeeper/region-heatmap/internal/auth"
	"github.com/flybeeper/region-heatmap/internal/client"
	"github.com/flybeeper/region-heatmap/internal/config"
	"github.com/flybeeper/region-heatmap/internal/view"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

// Версия задается при сборке через ldflags
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// TokenEnv переменная окружения с bearer-токеном по умолчанию
const TokenEnv = "HEATMAP_TOKEN"

// Options глобальные флаги
type Options struct {
	Token   string
	Output  string
	Timeout time.Duration
	Verbose bool
}

// Context зависимости, общие для всех команд
type Context struct {
	Config *config.Config
	Logger *utils.Logger
	Options
}

type contextKey struct{}

// NewRootCommand создает корневую команду со всеми подкомандами
func NewRootCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:     "heatmap-cli",
		Short:   "Тепловая карта полетов по регионам",
		Long:    "Загрузка статистики регионов из бэкенда аналитики, просмотр\nи выгрузка списка регионов, уведомления об импорте данных.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initContext(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.Token, "token", "", "bearer-токен бэкенда (по умолчанию $"+TokenEnv+")")
	pf.StringVarP(&opts.Output, "output", "o", "text", "формат вывода: text, json")
	pf.DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "таймаут операции")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "подробный вывод")

	cmd.AddCommand(
		newLoadCmd(),
		newRegionCmd(),
		newExportCmd(),
		newNotifyCmd(),
	)
	return cmd
}

// Execute запускает CLI
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func initContext(cmd *cobra.Command, opts *Options) error {
	if opts.Output != "text" && opts.Output != "json" {
		return fmt.Errorf("unknown output format %q", opts.Output)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Логи в stderr, результат в stdout
	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	logger := utils.NewLoggerWithOutput(level, "text", cmd.ErrOrStderr())

	if opts.Token == "" {
		opts.Token = os.Getenv(TokenEnv)
	}

	cc := &Context{Config: cfg, Logger: logger, Options: *opts}
	cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, cc))
	return nil
}

// getContext извлекает Context, подготовленный PersistentPreRunE
func getContext(cmd *cobra.Command) (*Context, error) {
	cc, ok := cmd.Context().Value(contextKey{}).(*Context)
	if !ok || cc == nil {
		return nil, fmt.Errorf("cli context is not initialized")
	}
	return cc, nil
}

// source клиент бэкенда для токена из флагов
func (cc *Context) source() (*client.Client, error) {
	if cc.Token == "" {
		return nil, fmt.Errorf("bearer token is required: use --token or $%s", TokenEnv)
	}
	session := auth.NewSession(cc.Token)
	return client.New(client.Config{
		BaseURL:        cc.Config.Backend.BaseURL,
		RequestTimeout: cc.Config.Backend.RequestTimeout,
		UserAgent:      cc.Config.Backend.UserAgent,
		RequestRate:    cc.Config.Backend.RequestRate,
	}, session, cc.Logger), nil
}

// load выполняет полную загрузку набора, как ее выполняет представление
func (cc *Context) load(ctx context.Context, stderr io.Writer) (*view.Loader, error) {
	src, err := cc.source()
	if err != nil {
		return nil, err
	}
	loader := view.NewLoader(src, view.NewConfig(cc.Config).Loader, cc.Logger)

	done := make(chan struct{})
	if cc.Verbose {
		go reportProgress(loader, stderr, done)
	}
	err = loader.Load(ctx)
	close(done)

	status := loader.Status()
	if err != nil {
		if status.Status == view.StatusExpired {
			return nil, fmt.Errorf("%w: %v", auth.ErrSessionExpired, err)
		}
		return nil, err
	}
	if len(status.FailedRegions) > 0 {
		fmt.Fprintf(stderr, "Нет статистики для %d регионов: %v\n", len(status.FailedRegions), status.FailedRegions)
	}
	return loader, nil
}

func reportProgress(loader *view.Loader, w io.Writer, done <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p := loader.Status().Progress
			if p.Total > 0 {
				fmt.Fprintf(w, "Загружено %d/%d (пакет %d/%d)\n", p.Done, p.Total, p.Chunk, p.Chunks)
			}
		case <-done:
			return
		}
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func withTimeout(cmd *cobra.Command, cc *Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), cc.Timeout)
}
