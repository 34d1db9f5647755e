package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"mvgen/core/analysis"
	"mvgen/core/pcm"
	"mvgen/core/studio"

	"github.com/spf13/cobra"
)

var analyzePretty bool

type analyzeOutput struct {
	File     string             `json:"file"`
	Duration float64            `json:"duration"`
	Analysis *analysis.Analysis `json:"analysis"`
	Themes   []string           `json:"themes"`
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <audio>",
	Short: "分析歌曲并输出 JSON",
	Long:  `解码音频文件，计算节奏、能量、响度、情绪与分段信息，结果以 JSON 输出到标准输出。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		decoder := pcm.NewAutoDecoder(cfg.FFmpegPath)
		buf, err := decoder.Decode(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("解码失败: %w", err)
		}

		result, err := analysis.NewEngine(cfg.AnalysisWorkers).Analyze(buf.Samples, buf.SampleRate, buf.Duration)
		if err != nil {
			return fmt.Errorf("分析失败: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		if analyzePretty {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(analyzeOutput{
			File:     args[0],
			Duration: buf.Duration,
			Analysis: result,
			Themes:   studio.Themes(result.Mood()),
		})
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzePretty, "pretty", false, "缩进输出 JSON")
	rootCmd.AddCommand(analyzeCmd)
}
