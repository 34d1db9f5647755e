package cmd

import (
	"os"

	"mvgen/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 mvgen HTTP 服务",
	Long:  `启动 HTTP API，提供项目管理、时间线编辑、导出与 WebSocket 进度推送。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, dir := range []string{cfg.WorkDir, cfg.UploadDir, cfg.ExportDir} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}

		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		return server.New(cfg, a.studio, a.hub, a.store).Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
