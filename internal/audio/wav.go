package audio

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/go-audio/wav"
	"github.com/m-mizutani/goerr/v2"
)

// SamplesToWAV encodes float32 PCM samples as a WAV byte slice.
func SamplesToWAV(samples []float32, sampleRate int) []byte {
	dataLen := len(samples) * 2
	totalLen := 44 + dataLen

	buf := make([]byte, totalLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(totalLen-8))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	copy(buf[44:], encodePCM(samples))
	return buf
}

// WAVToSamples decodes a PCM WAV file into mono float32 samples and returns
// them with the file's sample rate. Multi-channel input keeps the first channel.
func WAVToSamples(data []byte) ([]float32, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, goerr.Wrap(err, "read wav pcm", goerr.V("size", len(data)))
	}
	if buf.Format == nil || buf.Format.SampleRate == 0 || dec.BitDepth == 0 {
		return nil, 0, goerr.New("invalid wav file", goerr.V("size", len(data)))
	}

	channels := max(1, buf.Format.NumChannels)
	scale := float32(math.Pow(2, float64(dec.BitDepth)-1))
	out := make([]float32, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		out = append(out, float32(buf.Data[i])/scale)
	}
	return out, buf.Format.SampleRate, nil
}
