package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"image-pipeline/internal/imageio"
	"image-pipeline/internal/operations"
	"image-pipeline/internal/pipeline"
	"image-pipeline/internal/storage"
)

var (
	runPipelinePath string
	runInputPath    string
	runOutputPath   string
	runSnapshotDir  string
	runStrict       bool
	runQuality      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply a pipeline file to an image",
	Long: `Apply the steps of a YAML pipeline file to one image.

Example pipeline file (outline.yaml):
  name: outline
  snapshots: [0]
  steps:
    - id: grayscale
    - id: canny_edge
      params: {threshold1: 50, threshold2: 150}

Example:
  app run --pipeline outline.yaml --input in.png --output out.png --snapshot-dir previews`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := initLogger(cfg.Log.Debug)

		file, err := pipeline.LoadFile(runPipelinePath)
		if err != nil {
			return err
		}

		codec := imageio.NewCodec(logger)
		src, err := codec.Load(runInputPath)
		if err != nil {
			return err
		}
		defer src.Close()

		registry := operations.Default(logger)
		defer registry.Close()

		opts := pipeline.Options{
			StrictParams: cfg.Pipeline.StrictParams || runStrict,
			Quality:      cfg.Pipeline.Quality || runQuality,
			Logger:       logger,
		}
		if cfg.Storage.Enabled {
			db, err := storage.Open(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer db.Close()
			opts.Recorder = db
		}

		result, err := pipeline.New(registry, opts).Run(cmd.Context(), src, file.Steps, file.Snapshots)
		if err != nil {
			return err
		}
		defer result.Close()

		if err := codec.Save(result.Image, runOutputPath); err != nil {
			return err
		}
		if runSnapshotDir != "" {
			if err := writeSnapshots(codec, result, runSnapshotDir); err != nil {
				return err
			}
		}

		logger.WithFields(logrus.Fields{
			"run_id":     result.RunID,
			"output":     runOutputPath,
			"elapsed_ms": result.ElapsedMS(),
			"skipped":    result.SkippedIDs(),
		}).Info("Pipeline finished")

		if opts.Quality {
			for _, step := range result.Steps {
				if step.Quality == nil {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d %-24s psnr=%.2f ssim=%.4f mse=%.2f\n",
					step.Position, step.ID, step.Quality["psnr"], step.Quality["ssim"], step.Quality["mse"])
			}
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runPipelinePath, "pipeline", "p", "", "pipeline YAML file")
	runCmd.Flags().StringVarP(&runInputPath, "input", "i", "", "input image")
	runCmd.Flags().StringVarP(&runOutputPath, "output", "o", "", "output image")
	runCmd.Flags().StringVar(&runSnapshotDir, "snapshot-dir", "", "directory for intermediate snapshots")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "reject out of range parameters")
	runCmd.Flags().BoolVar(&runQuality, "quality", false, "report PSNR, SSIM and MSE per step")

	_ = runCmd.MarkFlagRequired("pipeline")
	_ = runCmd.MarkFlagRequired("input")
	_ = runCmd.MarkFlagRequired("output")
}

// writeSnapshots stores each snapshot as step-<position>.png
func writeSnapshots(codec *imageio.Codec, result *pipeline.Result, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	keys := make([]int, 0, len(result.Snapshots))
	for key := range result.Snapshots {
		pos, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("invalid snapshot key %q: %w", key, err)
		}
		keys = append(keys, pos)
	}
	slices.Sort(keys)

	for _, pos := range keys {
		path := filepath.Join(dir, fmt.Sprintf("step-%02d.png", pos))
		if err := codec.Save(result.Snapshots[strconv.Itoa(pos)], path); err != nil {
			return err
		}
	}
	return nil
}
