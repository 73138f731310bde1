// Package bitstream provides pure elementary-stream conversions used by
// the remux writers: Annex B to length-prefixed video, and ADTS to raw
// AAC audio.
package bitstream

import (
	"encoding/binary"
	"errors"
)

// ErrNoStartCode is returned when an Annex B buffer contains no start code.
var ErrNoStartCode = errors.New("bitstream: no Annex B start code found")

// AnnexBToAVCC converts a start-code-delimited access unit into AVCC form:
// each NAL unit prefixed with its 4-byte big-endian length. The input may
// contain any number of NAL units with 3- or 4-byte start codes.
func AnnexBToAVCC(data []byte) ([]byte, error) {
	nalus := splitAnnexB(data)
	if len(nalus) == 0 {
		return nil, ErrNoStartCode
	}

	total := 0
	for _, n := range nalus {
		total += 4 + len(n)
	}

	out := make([]byte, 0, total)
	for _, n := range nalus {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(n)))
		out = append(out, lenBuf[:]...)
		out = append(out, n...)
	}
	return out, nil
}

// splitAnnexB splits a buffer into NAL unit payloads, without start codes.
// A zero byte immediately preceding a 3-byte start code is treated as part
// of a 4-byte start code, not as payload.
func splitAnnexB(data []byte) [][]byte {
	var nalus [][]byte

	start := -1
	i := 0
	for i+2 < len(data) {
		if data[i] != 0 || data[i+1] != 0 || data[i+2] != 1 {
			i++
			continue
		}

		end := i
		if end > 0 && data[end-1] == 0 && (start < 0 || end-1 > start) {
			end--
		}
		if start >= 0 && end > start {
			nalus = append(nalus, data[start:end])
		}
		i += 3
		start = i
	}
	if start >= 0 && start < len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}
