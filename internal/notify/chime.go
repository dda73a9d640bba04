package notify

import (
	"bytes"
	"encoding/binary"
	"math"
)

const (
	chimeSampleRate = 22050
	chimeDuration   = 0.18 // seconds
	chimeStartHz    = 880.0
	chimeEndHz      = 1320.0
)

// Chime synthesizes the notification cue: a short rising tone rendered as a
// 16-bit mono WAV. Generating it in memory means the cue has no asset or
// network dependency and cannot fail to load.
func Chime() []byte {
	n := int(chimeSampleRate * chimeDuration)
	samples := make([]int16, n)

	phase := 0.0
	for i := 0; i < n; i++ {
		t := float64(i) / float64(n)
		freq := chimeStartHz + (chimeEndHz-chimeStartHz)*t
		phase += 2 * math.Pi * freq / chimeSampleRate

		// Quick attack, linear decay to silence.
		env := 1.0 - t
		if t < 0.05 {
			env = t / 0.05
		}
		samples[i] = int16(math.Sin(phase) * env * 0.6 * math.MaxInt16)
	}

	return encodeWAV(samples, chimeSampleRate)
}

// encodeWAV wraps mono 16-bit PCM samples in a RIFF/WAVE container.
func encodeWAV(samples []int16, sampleRate int) []byte {
	dataLen := len(samples) * 2
	var buf bytes.Buffer

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))           // chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))            // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))            // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))   // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))           // bits/sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	binary.Write(&buf, binary.LittleEndian, samples)

	return buf.Bytes()
}
