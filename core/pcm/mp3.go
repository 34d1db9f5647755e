package pcm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"mvgen/core/analysis"
)

// MP3Decoder 解码 MP3，go-mp3 固定输出 16 位小端立体声
type MP3Decoder struct{}

func (d *MP3Decoder) Decode(ctx context.Context, locator string) (*Buffer, error) {
	file, err := os.Open(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", analysis.ErrLoadFailed, err)
	}
	defer file.Close()

	return decodeMP3(ctx, file)
}

func decodeMP3(ctx context.Context, r io.Reader) (*Buffer, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", analysis.ErrInvalidFormat, err)
	}

	var samples []float32
	if n := decoder.Length(); n > 0 {
		samples = make([]float32, 0, n/4)
	}

	chunk := make([]byte, 16*1024)
	var carry []byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, readErr := decoder.Read(chunk)
		data := chunk[:n]
		if len(carry) > 0 {
			data = append(carry, data...)
			carry = nil
		}

		frames := len(data) / 4
		for f := 0; f < frames; f++ {
			b := data[f*4 : f*4+4]
			left := int16(uint16(b[0]) | uint16(b[1])<<8)
			right := int16(uint16(b[2]) | uint16(b[3])<<8)
			samples = append(samples, float32((float64(left)+float64(right))/2/32768.0))
		}
		if rest := len(data) % 4; rest > 0 {
			carry = append([]byte{}, data[len(data)-rest:]...)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: %v", analysis.ErrLoadFailed, readErr)
		}
	}

	return newBuffer(samples, float64(decoder.SampleRate()))
}
