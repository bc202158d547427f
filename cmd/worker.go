package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/digiclo/apiserver/internal/mq"
	"github.com/digiclo/apiserver/internal/server"
	"github.com/digiclo/apiserver/internal/services"
	"github.com/digiclo/apiserver/internal/tagger"
	"github.com/digiclo/apiserver/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Auto-tags new clothing items",
	Long: `Consumes clothing.created events and asks the tagging service for tags
for every item that has none yet. Requires MQ_DRIVER.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if cfg.MQ.Driver == "" {
			return errors.New("MQ_DRIVER is required for the worker")
		}
		if cfg.Tagger.URL == "" {
			return errors.New("TAGGER_URL is required for the worker")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		repos, err := server.OpenRepositories(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() { _ = repos.Close() }()

		objects, closeStorage, err := server.OpenStorage(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer func() { _ = closeStorage() }()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		defer func() { _ = queue.Close() }()

		clothing := services.NewClothingService(repos.Clothing, nil, nil, logger.Named("clothing"))
		tagging := worker.NewTagging(clothing, tagger.New(cfg.Tagger), objects, logger.Named("tagging"))

		if err := tagging.Run(ctx, queue); err != nil {
			logger.Error("tagging worker stopped", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
