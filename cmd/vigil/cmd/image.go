package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/MeKo-Tech/vigil/internal/detection"
	"github.com/MeKo-Tech/vigil/internal/engine"
	"github.com/MeKo-Tech/vigil/internal/modelcache"
	"github.com/MeKo-Tech/vigil/internal/models"
	"github.com/MeKo-Tech/vigil/internal/pipeline"
	"github.com/spf13/cobra"
)

// imageCmd represents the image command.
var imageCmd = &cobra.Command{
	Use:   "image [flags] <file>",
	Short: "Detect objects in an image file",
	Long: `Run object detection on a single image and write an annotated copy next
to the detection results.

Examples:
  vigil image photo.jpg
  vigil image photo.jpg --model yolov8m --confidence 0.5
  vigil image photo.jpg --output-dir ./results --format text`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		modelID, _ := cmd.Flags().GetString("model")
		outputDir, _ := cmd.Flags().GetString("output-dir")
		format, _ := cmd.Flags().GetString("format")

		confidence := cfg.Processing.ConfidenceThreshold
		if cmd.Flags().Changed("confidence") {
			confidence, _ = cmd.Flags().GetFloat64("confidence")
		}
		if confidence < 0 || confidence > 1 {
			return fmt.Errorf("invalid confidence threshold: %g (must be in [0, 1])", confidence)
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read image %s: %w", args[0], err)
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
			FrameSkip:      cfg.Processing.FrameSkip,
		}

		annotator := detection.NewAnnotator(detection.DefaultStyle())
		result, err := pipeline.NewImagePipeline(cache, annotator, pipeCfg).Process(data, modelID, confidence)
		if err != nil {
			return fmt.Errorf("detection failed: %w", err)
		}

		out := cmd.OutOrStdout()
		if format == "text" {
			for _, d := range result.Detections {
				fmt.Fprintf(out, "%s\t%.2f\t[%.0f %.0f %.0f %.0f]\n",
					d.Class, d.Confidence, d.Box[0], d.Box[1], d.Box[2], d.Box[3])
			}
			fmt.Fprintf(out, "annotated: %s\n", result.Artifact.Path)
			return nil
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"detections": result.Detections,
			"annotated":  result.Artifact.Path,
			"image_size": fmt.Sprintf("%dx%d", result.Width, result.Height),
		})
	},
}

func init() {
	rootCmd.AddCommand(imageCmd)
	imageCmd.Flags().StringP("model", "m", models.YOLOv8Nano, "model to use (yolov8n, yolov8s, yolov8m, yolov8l)")
	imageCmd.Flags().Float64P("confidence", "c", 0.25, "confidence threshold (0..1)")
	imageCmd.Flags().StringP("output-dir", "o", ".", "directory for the annotated output image")
	imageCmd.Flags().StringP("format", "f", "json", "output format (json, text)")
}
