package compose

import (
	"context"
	"math"

	"github.com/google/uuid"

	"mvgen/core/timeline"
	"mvgen/logger"
)

// 输出视频规格
const (
	RenderWidth     = 1920
	RenderHeight    = 1080
	RenderFrameRate = 30
)

// Visual 已加载的片段素材
type Visual struct {
	Locator  string
	Duration float64
	HasVideo bool
}

// Audio 已加载的歌曲
type Audio struct {
	Locator  string
	Duration float64
}

// MediaSource 将路径解析为可渲染的素材
type MediaSource interface {
	LoadVisual(ctx context.Context, locator string) (*Visual, error)
	LoadAudio(ctx context.Context, locator string) (*Audio, error)
}

// Renderer 将 Plan 编码到 outputPath，可在任意协程上报 [0, 1] 的原始进度，ctx 结束时需尽快退出
type Renderer interface {
	Render(ctx context.Context, plan *Plan, outputPath string, report func(float64)) error
}

// Segment 视频轨上的一个片段
type Segment struct {
	ClipID      uuid.UUID
	Locator     string
	SourceStart float64
	SourceEnd   float64
	// 在成片中的起始时间
	Start      float64
	Transition timeline.Transition
	// 起始处透明度 0->1 渐变时长，0 为硬切
	FadeIn float64
	Grade  *timeline.ColorGrade
}

func (s Segment) Duration() float64 { return s.SourceEnd - s.SourceStart }
func (s Segment) End() float64      { return s.Start + s.Duration() }

// Plan 一次渲染的完整描述：覆盖整首歌的音轨和按时间线排列的视频片段
type Plan struct {
	Width     int
	Height    int
	FrameRate int
	Audio     Audio
	Segments  []Segment
}

// VideoDuration 最后一个视频片段的结束时间
func (p *Plan) VideoDuration() float64 {
	if len(p.Segments) == 0 {
		return 0
	}
	return p.Segments[len(p.Segments)-1].End()
}

// Duration 音轨与视频轨中较长者
func (p *Plan) Duration() float64 {
	return math.Max(p.Audio.Duration, p.VideoDuration())
}

// buildPlan 加载所有片段并首尾相接排列，无法加载或没有视频流的片段跳过，片段之间检查 ctx
func buildPlan(ctx context.Context, source MediaSource, clips []timeline.Clip, audio *Audio) (*Plan, []uuid.UUID, error) {
	plan := &Plan{
		Width:     RenderWidth,
		Height:    RenderHeight,
		FrameRate: RenderFrameRate,
		Audio:     *audio,
	}

	var skipped []uuid.UUID
	var cursor float64
	for _, clip := range clips {
		if err := ctx.Err(); err != nil {
			return nil, skipped, err
		}

		visual, err := source.LoadVisual(ctx, clip.MediaLocator)
		if err != nil {
			if ctx.Err() != nil {
				return nil, skipped, ctx.Err()
			}
			logger.Warn("skipping clip, asset failed to load",
				logger.String("clipId", clip.ID.String()),
				logger.String("locator", clip.MediaLocator),
				logger.ErrorField(err))
			skipped = append(skipped, clip.ID)
			continue
		}
		if !visual.HasVideo {
			logger.Warn("skipping clip without a video track",
				logger.String("clipId", clip.ID.String()),
				logger.String("locator", clip.MediaLocator))
			skipped = append(skipped, clip.ID)
			continue
		}

		start, end := clip.SourceRange()
		if end-start <= 0 {
			logger.Warn("skipping clip trimmed to nothing",
				logger.String("clipId", clip.ID.String()))
			skipped = append(skipped, clip.ID)
			continue
		}

		locator := visual.Locator
		if locator == "" {
			locator = clip.MediaLocator
		}
		seg := Segment{
			ClipID:      clip.ID,
			Locator:     locator,
			SourceStart: start,
			SourceEnd:   end,
			Start:       cursor,
			Transition:  clip.Transition,
		}
		// 第一个片段没有转场
		if len(plan.Segments) > 0 {
			seg.FadeIn = math.Min(clip.Transition.Duration(), seg.Duration())
		}
		if clip.ColorGrade != nil {
			g := *clip.ColorGrade
			g.Clamp()
			if !g.IsNeutral() {
				seg.Grade = &g
			}
		}

		plan.Segments = append(plan.Segments, seg)
		cursor = seg.End()
	}

	return plan, skipped, nil
}
