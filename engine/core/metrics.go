package core

import "github.com/spaghettifunk/kiln/engine/containers"

const AVG_COUNT uint8 = 30

// FrameMetrics keeps a moving average of frame times and a frames-per-second
// counter. One instance is owned by the engine run loop.
type FrameMetrics struct {
	msTimes            *containers.RingQueue[float64]
	msAVG              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{
		msTimes: containers.NewRingQueue[float64](int(AVG_COUNT)),
	}
}

// Update records a frame that took frameElapsedTime seconds.
func (m *FrameMetrics) Update(frameElapsedTime float64) {
	frameMS := frameElapsedTime * 1000.0
	m.msTimes.Push(frameMS)

	sum := 0.0
	m.msTimes.Each(func(ms float64) { sum += ms })
	m.msAVG = sum / float64(m.msTimes.Len())

	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	m.frames++
}

func (m *FrameMetrics) FPS() float64 {
	return m.fps
}

// FrameTime returns the average frame time in milliseconds over the last
// AVG_COUNT frames.
func (m *FrameMetrics) FrameTime() float64 {
	return m.msAVG
}
