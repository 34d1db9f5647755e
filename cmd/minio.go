package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"mvgen/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioStats  bool
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO 导出文件管理",
	Long:  `列出、统计或删除对象存储中的导出视频，默认前缀为 exports/。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		fmt.Printf("MinIO: %s, Bucket: %s\n", cfg.MinioEndpoint, store.Bucket())

		if minioDelete {
			if minioPrefix == "" || minioPrefix == storage.ExportPrefix {
				return fmt.Errorf("删除操作需要指定具体的项目前缀，例如 exports/<projectId>/")
			}
			n, err := store.Delete(ctx, minioPrefix)
			if err != nil {
				return fmt.Errorf("删除失败: %w", err)
			}
			fmt.Printf("已删除 %d 个对象 (前缀: %s)\n", n, minioPrefix)
			return nil
		}

		objects, stats, err := store.List(ctx, minioPrefix)
		if err != nil {
			return fmt.Errorf("列出文件失败: %w", err)
		}

		if !minioStats {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSIZE\tMODIFIED")
			for _, obj := range objects {
				fmt.Fprintf(w, "%s\t%s\t%s\n", obj.Key, storage.FormatSize(obj.Size), obj.LastModified.Format("2006-01-02 15:04:05"))
			}
			w.Flush()
		}

		fmt.Printf("\n对象数: %d, 总大小: %s", stats.TotalObjects, storage.FormatSize(stats.TotalSize))
		if !stats.LastModified.IsZero() {
			fmt.Printf(", 最近更新: %s", stats.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", storage.ExportPrefix, "对象前缀")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "只显示统计信息")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除前缀下的所有对象")
	rootCmd.AddCommand(minioCmd)
}
