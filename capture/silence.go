package capture

import "time"

const (
	tickInterval       = 100 * time.Millisecond
	defaultSilenceWarn = 8 * time.Second
	audibleMinRatio    = 0.10
	audibleClearRatio  = 0.25 // higher threshold to clear the warning (hysteresis)
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // nothing audible from the source
	SilenceWarnClear              // audio resumed after a warning
	SilenceRepeat                 // still silent, repeated every warn period
	SilenceAutoStop               // silent for the whole auto-stop period
)

// silenceMonitor is fed one audible/inaudible sample per tick. It warns
// after warnEvery without audio and, when autoStop is set, asks for the
// capture to end once that much time has passed with almost no audio.
type silenceMonitor struct {
	warnAt   int
	stopAt   int // 0 disables auto-stop
	windowSz int

	ticks    int
	window   []bool
	warned   bool
	lastWarn int
}

func newSilenceMonitor(warnEvery, autoStop time.Duration) *silenceMonitor {
	if warnEvery <= 0 {
		warnEvery = defaultSilenceWarn
	}
	warnAt := max(int(warnEvery/tickInterval), 1)
	stopAt := 0
	if autoStop > 0 {
		stopAt = max(int(autoStop/tickInterval), 1)
	}
	windowSz := max(warnAt, stopAt)
	return &silenceMonitor{
		warnAt:   warnAt,
		stopAt:   stopAt,
		windowSz: windowSz,
		window:   make([]bool, windowSz),
	}
}

// ratio returns the share of audible ticks among the last n.
func (m *silenceMonitor) ratio(n int) float64 {
	if m.ticks < n {
		n = m.ticks
	}
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *silenceMonitor) Tick(audible bool) SilenceEvent {
	m.window[m.ticks%m.windowSz] = audible
	m.ticks++

	r := m.ratio(m.warnAt)

	if m.ticks >= m.warnAt && r < audibleMinRatio && !m.warned {
		m.warned = true
		m.lastWarn = m.ticks
		return SilenceWarn
	}
	if m.warned && r >= audibleClearRatio {
		m.warned = false
		return SilenceWarnClear
	}

	// Auto-stop is checked before the repeat.
	if m.stopAt > 0 && m.ticks >= m.stopAt && m.ratio(m.stopAt) < audibleMinRatio {
		return SilenceAutoStop
	}

	if m.warned && m.ticks-m.lastWarn >= m.warnAt {
		m.lastWarn = m.ticks
		return SilenceRepeat
	}
	return SilenceNone
}
