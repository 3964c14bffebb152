package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/vigil/internal/detection"
	"github.com/MeKo-Tech/vigil/internal/engine"
	"github.com/MeKo-Tech/vigil/internal/modelcache"
	"github.com/MeKo-Tech/vigil/internal/models"
	"github.com/MeKo-Tech/vigil/internal/pipeline"
	"github.com/MeKo-Tech/vigil/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the detection API",
	Long: `Start an HTTP server that provides REST API endpoints for object detection.

The server provides the following endpoints:
  POST   /api/detect/image  - Detect objects in an uploaded image
  POST   /api/detect/video  - Detect objects in an uploaded video
  GET    /api/models        - List available models
  GET    /api/models/loaded - List currently loaded models
  DELETE /api/models/{id}   - Unload a model from the cache
  GET    /health            - Health check endpoint

Examples:
  vigil serve
  vigil serve --port 8080
  vigil serve --host 0.0.0.0 --port 3000 --gpu`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		host := cfg.Server.Host
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		corsOrigin := cfg.Server.CORSOrigin
		if cmd.Flags().Changed("cors-origin") {
			corsOrigin, _ = cmd.Flags().GetString("cors-origin")
		}

		maxUploadSize := cfg.Server.MaxUploadMB
		if cmd.Flags().Changed("max-upload-size") {
			maxUploadSize, _ = cmd.Flags().GetInt("max-upload-size")
		}

		timeout := cfg.Server.TimeoutSec
		if cmd.Flags().Changed("timeout") {
			timeout, _ = cmd.Flags().GetInt("timeout")
		}

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if cmd.Flags().Changed("shutdown-timeout") {
			shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
		}

		confidence := cfg.Processing.ConfidenceThreshold
		if cmd.Flags().Changed("confidence") {
			confidence, _ = cmd.Flags().GetFloat64("confidence")
		}

		gpuEnabled := cfg.GPU.Enabled
		if cmd.Flags().Changed("gpu") {
			gpuEnabled, _ = cmd.Flags().GetBool("gpu")
		}

		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		catalog := models.DefaultCatalog()

		loaderCfg := engine.DefaultLoaderConfig()
		loaderCfg.ModelsDir = cfg.ModelsDir
		loaderCfg.NumThreads = cfg.Processing.NumThreads
		loaderCfg.GPU.Enabled = gpuEnabled
		loaderCfg.GPU.DeviceID = cfg.GPU.Device
		loaderCfg.GPU.MemoryLimit = cfg.GPU.MemoryLimit
		if cfg.Models.BaseURL != "" {
			loaderCfg.BaseURL = cfg.Models.BaseURL
		}

		cache := modelcache.New(catalog, engine.NewONNXLoader(loaderCfg))
		defer cache.Clear()

		annotator := detection.NewAnnotator(detection.DefaultStyle())

		pipeCfg := pipeline.Config{
			StaticDir:      cfg.Storage.StaticDir,
			TempDir:        cfg.Storage.TempDir,
			MaxImageWidth:  cfg.Processing.MaxImageWidth,
			MaxImageHeight: cfg.Processing.MaxImageHeight,
			FrameSkip:      cfg.Processing.FrameSkip,
		}

		detectionServer := server.NewServer(server.Config{
			CORSOrigin:        corsOrigin,
			MaxUploadMB:       int64(maxUploadSize),
			DefaultConfidence: confidence,
			StaticDir:         cfg.Storage.StaticDir,
		}, catalog, cache,
			pipeline.NewImagePipeline(cache, annotator, pipeCfg),
			pipeline.NewVideoPipeline(cache, annotator, pipeCfg),
		)

		mux := http.NewServeMux()
		detectionServer.SetupRoutes(mux)

		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(timeout) * time.Second,
			WriteTimeout:      time.Duration(timeout) * time.Second,
		}

		go func() {
			slog.Info("Starting detection server", "host", host, "port", port)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
			time.Duration(shutdownTimeout)*time.Second)
		defer shutdownCancel()

		slog.Info("Shutting down HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		slog.Info("Releasing loaded models")
		cache.Clear()

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 300, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Float64("confidence", 0.25, "default confidence threshold (0..1)")
	serveCmd.Flags().Bool("gpu", false, "enable GPU acceleration via CUDA")
}
