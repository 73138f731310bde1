package bitstream

import "errors"

// ErrInvalidADTS is returned when a buffer contains no parseable ADTS frame.
var ErrInvalidADTS = errors.New("bitstream: invalid ADTS data")

// ADTSToRaw strips the ADTS transport headers from every frame in data,
// returning the concatenated raw AAC payloads and the length of each
// sub-frame. One input buffer commonly bundles several ADTS frames; the
// lengths let the caller write each sub-frame as its own container packet.
func ADTSToRaw(data []byte) ([]byte, []int, error) {
	var (
		raw     []byte
		lengths []int
	)

	offset := 0
	for offset < len(data) {
		if len(data)-offset < 7 {
			break // not enough for an ADTS header
		}

		// Sync word: 0xFFF.
		if data[offset] != 0xFF || (data[offset+1]&0xF0) != 0xF0 {
			offset++
			continue
		}

		headerSize := 7
		if (data[offset+1] & 0x01) == 0 { // protection_absent == 0: CRC present
			headerSize = 9
		}

		frameLen := int(data[offset+3]&0x03)<<11 |
			int(data[offset+4])<<3 |
			int(data[offset+5]>>5)

		if frameLen <= headerSize || offset+frameLen > len(data) {
			break // truncated or malformed
		}

		payload := data[offset+headerSize : offset+frameLen]
		raw = append(raw, payload...)
		lengths = append(lengths, len(payload))

		offset += frameLen
	}

	if len(lengths) == 0 {
		return nil, nil, ErrInvalidADTS
	}
	return raw, lengths, nil
}
