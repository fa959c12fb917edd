// Package audio holds the PCM primitives shared by the microphone, the
// transcribers and the speech output.
package audio

import "time"

const (
	DefaultSampleRate = 16000
	BytesPerSample    = 2
)

// Segment is one captured utterance of PCM16LE mono audio.
type Segment struct {
	PCM        []byte
	SampleRate int
	// Hint carries already-known text for the utterance (typed input in the
	// chat window, scripted devices). Transcribers that cannot hear audio use it.
	Hint string
}

// Duration reports the playback length of the segment.
func (s Segment) Duration() time.Duration {
	return PCMDuration(len(s.PCM), s.SampleRate)
}

// Empty reports whether the segment carries neither audio nor a hint.
func (s Segment) Empty() bool {
	return len(s.PCM) == 0 && s.Hint == ""
}

// PCMDuration converts a PCM16LE mono byte count to a duration.
func PCMDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	samples := n / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// BytesFor returns the PCM16LE byte count for d at sampleRate.
func BytesFor(d time.Duration, sampleRate int) int {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return int(int64(d) * int64(sampleRate) / int64(time.Second) * BytesPerSample)
}
