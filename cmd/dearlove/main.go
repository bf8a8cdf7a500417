package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/dearlove-system/internal/config"
	"github.com/mmeshcher/dearlove-system/internal/devserver"
	"github.com/mmeshcher/dearlove-system/internal/gateway"
	"github.com/mmeshcher/dearlove-system/internal/model"
	"github.com/mmeshcher/dearlove-system/internal/orchestrator"
	"github.com/mmeshcher/dearlove-system/internal/realtime"
	"github.com/mmeshcher/dearlove-system/internal/session"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("parse config", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DevServer {
		if err := runDevServer(ctx, cfg, logger); err != nil {
			sugar.Fatalw("dev server failed", "error", err)
		}
		return
	}

	if err := runCreation(ctx, cfg, logger); err != nil {
		sugar.Fatalw("creation run failed", "error", err)
	}
}

// runDevServer запускает эмулятор серверного API и останавливает его по
// сигналу завершения.
func runDevServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: devserver.New(logger).SetupRouter(),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("dev server started", zap.String("address", cfg.RunAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		logger.Info("dev server stopping")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// runCreation выполняет сценарий публикации: продолжает незавершённую
// оплату, если остались метки, иначе создаёт сайт по файлу настроек.
func runCreation(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	store, err := session.NewStore(cfg.StateFile)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	gw := gateway.NewClient(cfg.BackendAddress, cfg.ShareOrigin, cfg.SharePath, logger)

	if cfg.OpenWebsiteID != "" {
		return openWebsite(ctx, gw, cfg.OpenWebsiteID)
	}

	channel := realtime.NewClient(cfg.RealtimeAddress, store, logger)
	defer channel.Cleanup()

	svc := orchestrator.NewService(gw, channel, store, consoleNotifier{sugar: sugar}, logger)

	var outcome *orchestrator.Outcome

	if _, inProgress := store.Current(); inProgress {
		sugar.Infow("pending payment found, resuming")
		outcome, err = svc.Resume(ctx)
	} else {
		var settings model.Settings
		settings, err = loadSettings(cfg.SettingsFile)
		if err != nil {
			return err
		}

		outcome, err = svc.Run(ctx, settings, orchestrator.Options{
			Free:          cfg.Free,
			PaymentMethod: cfg.PaymentMethod,
			PriceVND:      cfg.PriceVND,
			Tip:           cfg.TipAmount,
			VoucherCode:   cfg.VoucherCode,
		})
	}
	if err != nil {
		return err
	}

	report(sugar, outcome)
	return nil
}

// openWebsite печатает настройки сайта, созданного ранее, по его
// идентификатору из шаринг-ссылки.
func openWebsite(ctx context.Context, gw *gateway.Client, websiteID string) error {
	site, err := gw.GetWebsite(ctx, websiteID)
	if err != nil {
		return err
	}

	raw, err := json.MarshalIndent(site, "", "  ")
	if err != nil {
		return fmt.Errorf("encode website: %w", err)
	}

	fmt.Println(string(raw))
	return nil
}

// loadSettings читает настройки сайта из JSON-файла. Пустой путь
// означает настройки по умолчанию.
func loadSettings(path string) (model.Settings, error) {
	var settings model.Settings
	if path == "" {
		return settings, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("read settings file: %w", err)
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return settings, fmt.Errorf("parse settings file: %w", err)
	}

	return settings, nil
}

func report(sugar *zap.SugaredLogger, outcome *orchestrator.Outcome) {
	switch outcome.Kind {
	case orchestrator.OutcomeRedirect:
		sugar.Infow("complete the payment in your browser",
			"checkout_url", outcome.CheckoutURL,
			"order", outcome.OrderCode,
		)
		fmt.Println("Checkout:", outcome.CheckoutURL)
	default:
		sugar.Infow("website is ready",
			"website", outcome.WebsiteID,
			"share_url", outcome.ShareURL,
		)
		fmt.Println("Share your website:", outcome.ShareURL)
	}
}

// consoleNotifier выводит пользовательские сообщения через логгер.
type consoleNotifier struct {
	sugar *zap.SugaredLogger
}

func (n consoleNotifier) Notify(level, message string) {
	switch level {
	case orchestrator.LevelError:
		n.sugar.Errorw(message)
	case orchestrator.LevelWarning:
		n.sugar.Warnw(message)
	default:
		n.sugar.Infow(message)
	}
}
