package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"mvgen/core/compose"
	"mvgen/core/media"
	"mvgen/core/project"
	"mvgen/logger"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var (
	renderManifest string
	renderOutput   string
	renderQuiet    bool
)

const progressScale = 1000

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "根据 YAML 工程文件渲染 mp4",
	Long: `读取工程文件（歌曲与片段列表），合成视频并写入输出路径。
Ctrl-C 会取消渲染并清理未完成的文件。`,
	Example: "  mvgen render -f project.yaml -o out.mp4",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := project.LoadManifest(renderManifest)
		if err != nil {
			return err
		}
		tl, err := m.Timeline()
		if err != nil {
			return err
		}

		out := renderOutput
		if out == "" {
			out = strings.TrimSuffix(renderManifest, filepath.Ext(renderManifest)) + ".mp4"
		}
		outDir, err := filepath.Abs(filepath.Dir(out))
		if err != nil {
			return err
		}

		toolchain, err := media.NewToolchain(cfg.FFmpegPath, cfg.FFprobePath, 0)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		bar, wait := newRenderBar(renderQuiet, filepath.Base(out))
		engine := compose.NewEngine(toolchain, toolchain, compose.WithOutputDir(outDir))
		job, err := engine.Start(ctx, tl.Snapshot(), m.SongPath(), func(v float64) {
			bar(v)
		})
		if err != nil {
			return err
		}

		<-job.Done()
		wait(job.State() == compose.StateCompleted)

		if ids := job.Skipped(); len(ids) > 0 {
			logger.Warn("部分片段无法加载，已跳过", logger.Int("count", len(ids)))
		}
		if err := job.Err(); err != nil {
			if errors.Is(err, compose.ErrCancelled) {
				return fmt.Errorf("渲染已取消")
			}
			return err
		}

		if err := os.Rename(job.OutputPath, out); err != nil {
			return fmt.Errorf("移动输出文件失败: %w", err)
		}
		logger.Info("渲染完成",
			logger.String("output", out),
			logger.Float64("duration", tl.TotalDuration()),
			logger.Duration("elapsed", time.Since(job.StartedAt)))
		fmt.Println(out)
		return nil
	},
}

// newRenderBar 返回进度回调与收尾函数，quiet 时不绘制
func newRenderBar(quiet bool, name string) (func(float64), func(completed bool)) {
	if quiet {
		return func(float64) {}, func(bool) {}
	}

	p := mpb.NewWithContext(context.Background(), mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
	bar := p.AddBar(progressScale,
		mpb.PrependDecorators(
			decor.Name("Rendering "+name+": "),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Elapsed(decor.ET_STYLE_GO),
		),
	)

	report := func(v float64) {
		bar.SetCurrent(int64(v * progressScale))
	}
	finish := func(completed bool) {
		if completed {
			bar.SetCurrent(progressScale)
		} else {
			bar.Abort(false)
		}
		p.Wait()
	}
	return report, finish
}

func init() {
	renderCmd.Flags().StringVarP(&renderManifest, "file", "f", "project.yaml", "工程文件路径")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "输出 mp4 路径，默认与工程文件同名")
	renderCmd.Flags().BoolVarP(&renderQuiet, "quiet", "q", false, "不显示进度条")
	rootCmd.AddCommand(renderCmd)
}
