package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"pgmerge/core/loader"
	"pgmerge/core/logger"
	"pgmerge/core/middleware/auth"
	"pgmerge/core/middleware/rayid"
	"pgmerge/core/storage"
	"pgmerge/feature/api"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveSession   sessionFlags
	serveNoStorage bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the merge API server",
	Long:  `Starts the HTTP server exposing schema inspection, planning and merging.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Load configuration, logger and database
		rt, err := newRuntime(serveSession)
		if err != nil {
			return err
		}
		defer rt.Close()
		zap.ReplaceGlobals(rt.logger)
		logg := rt.logger

		opts, err := rt.cfg.Merge.Options()
		if err != nil {
			return err
		}

		// 2. Initialize Storage (optional: bucket inputs are rejected without it)
		var client storage.Client
		if !serveNoStorage {
			if c, err := storage.NewClient(rt.cfg.Storage); err != nil {
				logg.Warn("Optional storage connection failed", zap.Error(err))
			} else {
				client = c
			}
		}

		// 3. Initialize Fiber App
		app := fiber.New(fiber.Config{
			DisableStartupMessage: true,
			BodyLimit:             rt.cfg.Server.BodyLimit(),
			ReadTimeout:           rt.cfg.Server.ReadTimeout(),
		})

		// 4. Initialize Feature Loader
		mgr := loader.NewManager(logg)
		mgr.Register(api.NewFeature(rt.session, opts, rt.cfg.Server.SchemaCacheTTL(), client, rt.cfg.Storage.Bucket, logg))

		// RayID must be first to trace everything
		app.Use(rayid.New())

		// Request logging with the ray ID
		app.Use(func(c *fiber.Ctx) error {
			l := logger.WithRayID(logg, c)
			l.Info("Request started",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			err := c.Next()
			if err != nil {
				l.Error("Request error", zap.Error(err))
			}
			return err
		})

		// Health probes stay public
		app.Use(auth.New(auth.Config{ApiKey: rt.cfg.Server.ApiKey, Skip: []string{"/health"}}))

		// 5. Load Features
		if err := mgr.LoadAll(app); err != nil {
			return err
		}

		// 6. Start Server
		errCh := make(chan error, 1)
		go func() {
			logg.Info("Starting server", zap.String("address", rt.cfg.Server.Address()))
			errCh <- app.Listen(rt.cfg.Server.Address())
		}()

		// 7. Graceful Shutdown
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return err
		case <-c:
		}
		logg.Info("Shutting down server...")
		return app.Shutdown()
	},
}

func init() {
	serveSession.register(serveCmd)
	serveCmd.Flags().BoolVar(&serveNoStorage, "no-storage", false, "Do not connect to the storage bucket")
	RootCmd.AddCommand(serveCmd)
}
