package audio

import (
	"math"
	"time"
)

// VADConfig controls voice activity detection. Durations are measured in
// audio time, derived from the number of samples processed, so bursty frame
// delivery on a call does not stretch or shrink pauses.
type VADConfig struct {
	SpeechThresholdDB float64
	SilenceTimeout    time.Duration
	MinSpeechDuration time.Duration
	// MaxSpeechDuration cuts a segment that runs this long without a pause.
	// Zero disables the cut.
	MaxSpeechDuration time.Duration
	PreSpeechBuffer   time.Duration
	SampleRate        int
}

// DefaultVADConfig returns defaults tuned for narrowband phone audio.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		SpeechThresholdDB: -30,
		SilenceTimeout:    time.Second,
		MinSpeechDuration: 500 * time.Millisecond,
		MaxSpeechDuration: 15 * time.Second,
		PreSpeechBuffer:   300 * time.Millisecond,
		SampleRate:        16000,
	}
}

// VAD segments a mono sample stream into utterances by chunk energy.
type VAD struct {
	cfg      VADConfig
	speaking bool

	clock     int64 // samples processed
	startAt   int64
	lastVoice int64

	segment []float32
	lead    []float32 // recent silence, prepended to the next segment
	leadCap int
}

func NewVAD(cfg VADConfig) *VAD {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	leadCap := int(cfg.PreSpeechBuffer.Seconds() * float64(cfg.SampleRate))
	return &VAD{cfg: cfg, leadCap: leadCap, lead: make([]float32, 0, leadCap)}
}

// VADResult holds the output of processing an audio chunk.
type VADResult struct {
	SpeechEnded bool
	Audio       []float32
}

// Process feeds one chunk and returns the finished segment when the chunk
// closes one.
func (v *VAD) Process(samples []float32) VADResult {
	v.clock += int64(len(samples))
	if energyDB(samples) < v.cfg.SpeechThresholdDB {
		return v.unvoiced(samples)
	}

	v.voiced(samples)
	if v.cfg.MaxSpeechDuration > 0 && v.since(v.startAt) >= v.cfg.MaxSpeechDuration {
		return v.cut()
	}
	return VADResult{}
}

func (v *VAD) voiced(samples []float32) {
	if !v.speaking {
		v.speaking = true
		v.startAt = v.clock - int64(len(samples))
		v.segment = append(v.segment, v.lead...)
		v.lead = v.lead[:0]
	}
	v.lastVoice = v.clock
	v.segment = append(v.segment, samples...)
}

func (v *VAD) unvoiced(samples []float32) VADResult {
	if !v.speaking {
		v.remember(samples)
		return VADResult{}
	}

	v.segment = append(v.segment, samples...)
	if v.since(v.lastVoice) < v.cfg.SilenceTimeout {
		return VADResult{}
	}
	if v.duration(v.lastVoice-v.startAt) < v.cfg.MinSpeechDuration {
		v.segment = v.segment[:0]
		v.speaking = false
		return VADResult{}
	}
	return v.cut()
}

// cut ends the current segment and hands it out.
func (v *VAD) cut() VADResult {
	seg := v.segment
	v.segment = nil
	v.speaking = false
	return VADResult{SpeechEnded: true, Audio: seg}
}

func (v *VAD) remember(samples []float32) {
	if v.leadCap == 0 {
		return
	}
	v.lead = append(v.lead, samples...)
	if over := len(v.lead) - v.leadCap; over > 0 {
		v.lead = append(v.lead[:0], v.lead[over:]...)
	}
}

func (v *VAD) since(at int64) time.Duration {
	return v.duration(v.clock - at)
}

func (v *VAD) duration(samples int64) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(v.cfg.SampleRate)
}

// Speaking reports whether the VAD is inside a speech segment.
func (v *VAD) Speaking() bool {
	return v.speaking
}

// Flush returns the segment in progress, if any, and resets the VAD.
func (v *VAD) Flush() []float32 {
	if len(v.segment) == 0 {
		return nil
	}
	seg := v.segment
	v.segment = nil
	v.speaking = false
	return seg
}

func energyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
