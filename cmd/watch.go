package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"mvgen/core/inbox"
	"mvgen/logger"

	"github.com/spf13/cobra"
)

var (
	watchDir     string
	watchWorkers int
	watchSettle  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "监听目录并自动导入新歌曲",
	Long: `监听导入目录，新的音频文件写入完成后自动创建项目并完成分析。
结果与 HTTP 服务共享同一数据库与缓存。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := watchDir
		if dir == "" {
			dir = cfg.InboxDir
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		importer := func(ctx context.Context, path string) error {
			title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			p, err := a.studio.ImportSong(ctx, path, title)
			if err != nil {
				return err
			}
			logger.Info("歌曲已导入",
				logger.String("projectId", p.ID.String()),
				logger.String("mood", string(p.Song.Analysis.Mood())),
				logger.Float64("tempo", p.Song.Analysis.Tempo()))
			return nil
		}

		w := inbox.New(dir, importer, inbox.WithWorkers(watchWorkers), inbox.WithSettle(watchSettle))
		if err := w.Run(ctx); err != nil {
			return err
		}

		s := w.Stats()
		logger.Info("停止监听",
			logger.Int("imported", int(s.Handled)),
			logger.Int("failed", int(s.Failed)))
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchDir, "dir", "d", "", "导入目录，默认 INBOX_DIR")
	watchCmd.Flags().IntVarP(&watchWorkers, "workers", "w", 2, "并发导入数")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 500*time.Millisecond, "文件大小稳定多久后开始导入")
	rootCmd.AddCommand(watchCmd)
}
