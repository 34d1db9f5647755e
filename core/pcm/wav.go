package pcm

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/wav"

	"mvgen/core/analysis"
)

// WAVDecoder 解码整数 PCM 的 WAV 文件
type WAVDecoder struct{}

func (d *WAVDecoder) Decode(ctx context.Context, locator string) (*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", analysis.ErrLoadFailed, err)
	}
	defer file.Close()

	return decodeWAV(file)
}

func decodeWAV(r io.ReadSeeker) (*Buffer, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: not a PCM WAV stream", analysis.ErrInvalidFormat)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: read PCM: %v", analysis.ErrLoadFailed, err)
	}
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("%w: missing format chunk", analysis.ErrInvalidFormat)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(decoder.BitDepth)
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: bit depth %d", analysis.ErrInvalidFormat, bitDepth)
	}

	data := buf.Data
	if bitDepth == 8 {
		// 8 位 WAV 为无符号
		data = make([]int, len(buf.Data))
		for i, v := range buf.Data {
			data[i] = v - 128
		}
	}

	scale := math.Pow(2, float64(bitDepth-1))
	samples := downmix(data, buf.Format.NumChannels, scale)
	return newBuffer(samples, float64(buf.Format.SampleRate))
}
