package audio

import (
	"encoding/binary"
	"math"
)

// RMS returns the normalised root-mean-square level of PCM16LE samples in [0,1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

const (
	// MinSpeechThreshold keeps a silent room from calibrating to zero.
	MinSpeechThreshold = 0.01
	ambientMultiplier  = 1.5
)

// CalibrateThreshold derives a speech threshold from ambient-noise frames.
func CalibrateThreshold(frames [][]byte) float64 {
	if len(frames) == 0 {
		return MinSpeechThreshold
	}
	var sum float64
	for _, f := range frames {
		sum += RMS(f)
	}
	th := sum / float64(len(frames)) * ambientMultiplier
	if th < MinSpeechThreshold {
		return MinSpeechThreshold
	}
	return th
}

// EnergyDetector is an RMS speech detector with hysteresis: speech starts
// after StartFrames consecutive loud frames and the silence level sits below
// the speech level so a trailing syllable does not flicker.
type EnergyDetector struct {
	SpeechThreshold float64
	StartFrames     int

	inSpeech bool
	loud     int
}

// NewEnergyDetector returns a detector for the given speech threshold.
func NewEnergyDetector(threshold float64) *EnergyDetector {
	if threshold <= 0 {
		threshold = MinSpeechThreshold
	}
	return &EnergyDetector{SpeechThreshold: threshold, StartFrames: 2}
}

// Push feeds one frame and reports whether the detector is in speech.
func (d *EnergyDetector) Push(frame []byte) bool {
	level := RMS(frame)
	if d.inSpeech {
		d.inSpeech = level >= d.SpeechThreshold*0.6
		if !d.inSpeech {
			d.loud = 0
		}
		return d.inSpeech
	}
	if level >= d.SpeechThreshold {
		d.loud++
		if d.loud >= d.StartFrames {
			d.inSpeech = true
		}
	} else {
		d.loud = 0
	}
	return d.inSpeech
}

// Reset clears the detector state.
func (d *EnergyDetector) Reset() {
	d.inSpeech = false
	d.loud = 0
}
