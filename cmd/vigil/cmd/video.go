package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/vigil/internal/detection"
	"github.com/MeKo-Tech/vigil/internal/engine"
	"github.com/MeKo-Tech/vigil/internal/modelcache"
	"github.com/MeKo-Tech/vigil/internal/models"
	"github.com/MeKo-Tech/vigil/internal/pipeline"
	"github.com/spf13/cobra"
)

// videoCmd represents the video command.
var videoCmd = &cobra.Command{
	Use:   "video [flags] <file>",
	Short: "Detect objects in a video file",
	Long: `Run object detection over a video, frame by frame, and write a re-encoded
copy with detections drawn in.

Examples:
  vigil video clip.mp4
  vigil video clip.mp4 --model yolov8s --frame-skip 5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		modelID, _ := cmd.Flags().GetString("model")
		outputDir, _ := cmd.Flags().GetString("output-dir")

		confidence := cfg.Processing.ConfidenceThreshold
		if cmd.Flags().Changed("confidence") {
			confidence, _ = cmd.Flags().GetFloat64("confidence")
		}
		if confidence < 0 || confidence > 1 {
			return fmt.Errorf("invalid confidence threshold: %g (must be in [0, 1])", confidence)
		}

		frameSkip := cfg.Processing.FrameSkip
		if cmd.Flags().Changed("frame-skip") {
			frameSkip, _ = cmd.Flags().GetInt("frame-skip")
		}
		if frameSkip < 1 {
			return fmt.Errorf("invalid frame skip: %d (must be >= 1)", frameSkip)
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read video %s: %w", args[0], err)
		}

		loaderCfg := engine.DefaultLoaderConfig()
		loaderCfg.ModelsDir = cfg.ModelsDir
		loaderCfg.NumThreads = cfg.Processing.NumThreads
		loaderCfg.GPU.Enabled = cfg.GPU.Enabled
		loaderCfg.GPU.DeviceID = cfg.GPU.Device
		loaderCfg.GPU.MemoryLimit = cfg.GPU.MemoryLimit
		if cfg.Models.BaseURL != "" {
			loaderCfg.BaseURL = cfg.Models.BaseURL
		}

		cache := modelcache.New(models.DefaultCatalog(), engine.NewONNXLoader(loaderCfg))
		defer cache.Clear()

		pipeCfg := pipeline.Config{
			StaticDir:      outputDir,
			TempDir:        cfg.Storage.TempDir,
			MaxImageWidth:  cfg.Processing.MaxImageWidth,
			MaxImageHeight: cfg.Processing.MaxImageHeight,
			FrameSkip:      frameSkip,
		}

		annotator := detection.NewAnnotator(detection.DefaultStyle())
		result, err := pipeline.NewVideoPipeline(cache, annotator, pipeCfg).
			Process(data, filepath.Base(args[0]), modelID, confidence)
		if err != nil {
			return fmt.Errorf("detection failed: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "frames: %d\ndetected on: %d\nannotated: %s\n",
			result.TotalFrames, result.FramesDetected, result.Artifact.Path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(videoCmd)
	videoCmd.Flags().StringP("model", "m", models.YOLOv8Nano, "model to use (yolov8n, yolov8s, yolov8m, yolov8l)")
	videoCmd.Flags().Float64P("confidence", "c", 0.25, "confidence threshold (0..1)")
	videoCmd.Flags().Int("frame-skip", 3, "run detection on every Nth frame")
	videoCmd.Flags().StringP("output-dir", "o", ".", "directory for the annotated output video")
}
