package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"mvgen/core/compose"
	"mvgen/logger"
)

// 错误信息中保留的 ffmpeg 日志行数
const stderrTail = 20

// Render 编码输出，并将 ffmpeg 进度换算为占总时长的比例
func (t *Toolchain) Render(ctx context.Context, plan *compose.Plan, outputPath string, report func(float64)) error {
	if len(plan.Segments) == 0 {
		return fmt.Errorf("plan has no video segments")
	}

	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-nostats"}
	if t.threads > 0 {
		args = append(args, "-threads", strconv.Itoa(t.threads))
	}
	args = append(args, "-progress", "pipe:2")
	args = append(args, renderArgs(plan, outputPath)...)

	logger.Debug("executing ffmpeg",
		logger.String("cmd", t.ffmpegPath),
		logger.Strings("args", args))

	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// Wait 之前必须读完 stderr
	tail := streamProgress(stderr, plan.Duration(), report)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg execution failed: %w: %s", err, strings.Join(tail, "\n"))
	}
	return nil
}

// streamProgress 解析 -progress 输出的 key=value，按 out_time 上报进度，其余行作为日志尾部返回
func streamProgress(r io.Reader, total float64, report func(float64)) []string {
	scanner := bufio.NewScanner(r)
	var tail []string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.ContainsAny(key, " \t") {
			if line != "" {
				tail = append(tail, line)
				if len(tail) > stderrTail {
					tail = tail[1:]
				}
			}
			continue
		}

		switch key {
		case "out_time_us", "out_time_ms":
			// 两个字段单位都是微秒
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil || us < 0 || total <= 0 || report == nil {
				continue
			}
			report(min(float64(us)/1e6/total, 1))
		case "progress":
			if value == "end" && report != nil {
				report(1)
			}
		}
	}
	return tail
}
