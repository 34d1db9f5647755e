package media

import (
	"fmt"
	"strconv"
	"strings"

	"mvgen/core/compose"
	"mvgen/core/timeline"
)

// FilterChain 构造逗号分隔的 ffmpeg 滤镜链
type FilterChain struct {
	filters []string
}

func NewFilterChain() *FilterChain {
	return &FilterChain{filters: make([]string, 0, 8)}
}

// Fit 等比缩放到 width x height，空白处补黑边
func (c *FilterChain) Fit(width, height int) *FilterChain {
	if width <= 0 || height <= 0 {
		return c
	}
	c.filters = append(c.filters,
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", width, height),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black", width, height),
		"setsar=1",
	)
	return c
}

func (c *FilterChain) FPS(fps int) *FilterChain {
	if fps <= 0 {
		return c
	}
	c.filters = append(c.filters, "fps="+strconv.Itoa(fps))
	return c
}

// Grade 调色映射到 eq 与 colorbalance：亮度直接使用，对比度和饱和度以 1 为基准偏移，
// 色温在中间调上调整红蓝平衡
func (c *FilterChain) Grade(g *timeline.ColorGrade) *FilterChain {
	if g == nil || g.IsNeutral() {
		return c
	}
	if g.Brightness != 0 || g.Contrast != 0 || g.Saturation != 0 {
		c.filters = append(c.filters, fmt.Sprintf("eq=brightness=%s:contrast=%s:saturation=%s",
			num(g.Brightness), num(1+g.Contrast), num(1+g.Saturation)))
	}
	if g.Temperature != 0 {
		shift := g.Temperature * 0.3
		c.filters = append(c.filters, fmt.Sprintf("colorbalance=rm=%s:bm=%s", num(shift), num(-shift)))
	}
	return c
}

// FadeIn 从黑场淡入
func (c *FilterChain) FadeIn(seconds float64) *FilterChain {
	if seconds <= 0 {
		return c
	}
	c.filters = append(c.filters, "fade=t=in:st=0:d="+num(seconds))
	return c
}

func (c *FilterChain) Custom(filter string) *FilterChain {
	if filter != "" {
		c.filters = append(c.filters, filter)
	}
	return c
}

func (c *FilterChain) Build() string {
	return strings.Join(c.filters, ",")
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// renderArgs 生成 ffmpeg 参数，输入 0..n-1 为片段，第 n 个为歌曲
func renderArgs(plan *compose.Plan, outputPath string) []string {
	var args []string
	var graph strings.Builder

	for i, seg := range plan.Segments {
		args = append(args,
			"-ss", num(seg.SourceStart),
			"-t", num(seg.Duration()),
			"-i", seg.Locator,
		)

		chain := NewFilterChain().
			Fit(plan.Width, plan.Height).
			FPS(plan.FrameRate).
			Custom("format=yuv420p").
			Grade(seg.Grade).
			FadeIn(seg.FadeIn).
			Custom("setpts=PTS-STARTPTS")
		fmt.Fprintf(&graph, "[%d:v]%s[v%d];", i, chain.Build(), i)
	}

	for i := range plan.Segments {
		fmt.Fprintf(&graph, "[v%d]", i)
	}
	fmt.Fprintf(&graph, "concat=n=%d:v=1:a=0[vout]", len(plan.Segments))

	audioIndex := len(plan.Segments)
	args = append(args,
		"-i", plan.Audio.Locator,
		"-filter_complex", graph.String(),
		"-map", "[vout]",
		"-map", fmt.Sprintf("%d:a:0", audioIndex),
		"-c:v", "libx264",
		"-preset", "medium",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(plan.FrameRate),
		"-c:a", "aac",
		"-b:a", "192k",
		"-t", num(plan.Duration()),
		"-movflags", "+faststart",
		"-f", "mp4",
		outputPath,
	)
	return args
}
