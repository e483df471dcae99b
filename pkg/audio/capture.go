// Package audio wraps the miniaudio capture device used by the microphone
// adapters. Playback goes through an external player process instead, so the
// speaker side never competes with capture inside this process.
package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// Capture owns a miniaudio context and a running capture device.
type Capture struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// OpenCapture starts S16 capture at the given rate and channel count. Each
// callback buffer is copied onto frames; when the consumer lags, frames are
// dropped rather than blocking the audio thread.
func OpenCapture(sampleRate, channels int, frames chan<- []byte) (*Capture, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.SampleRate = uint32(sampleRate)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(channels)
	devCfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, raw []byte, _ uint32) {
			if len(raw) == 0 {
				return
			}
			frame := make([]byte, len(raw))
			copy(frame, raw)
			select {
			case frames <- frame:
			default:
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, devCfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("audio: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("audio: start capture device: %w", err)
	}

	return &Capture{ctx: mctx, device: device}, nil
}

// Close stops capture and frees the device and context.
func (c *Capture) Close() {
	_ = c.device.Stop()
	c.device.Uninit()
	_ = c.ctx.Uninit()
	c.ctx.Free()
}
