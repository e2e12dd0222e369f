package qrdecoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image/png"
)

// pngPayloadChunkType is the private, ticket-validator-specific PNG
// ancillary chunk ("tkPL" — lowercase first and second letters mark it
// ancillary and private per the PNG spec) this engine reads the embedded QR
// payload from. The checkpoint device that rendered the QR embeds the
// same string it encoded visually, so validation never needs a
// computer-vision QR reader — it reads back exactly what was written.
const pngPayloadChunkType = "tkPL"

var errNoPayloadChunk = errors.New("qrdecoder: PNG carries no embedded ticket payload chunk")

// extractPNGPayload takes the already base64-decoded PNG bytes of a
// `data:image/png;base64,` QR payload and returns the string embedded in
// its tkPL chunk, which
// the recursive decode step re-runs format detection against.
func extractPNGPayload(pngBytes []byte) (string, error) {
	// Validate it really is a well-formed PNG before chunk-walking it;
	// this also bounds decode cost the way a real image pipeline would.
	if _, err := png.Decode(bytes.NewReader(pngBytes)); err != nil {
		return "", fmt.Errorf("qrdecoder: invalid PNG: %w", err)
	}

	const sigLen = 8
	if len(pngBytes) < sigLen {
		return "", errNoPayloadChunk
	}
	buf := pngBytes[sigLen:]

	for len(buf) >= 12 {
		length := binary.BigEndian.Uint32(buf[0:4])
		chunkType := string(buf[4:8])
		if uint32(len(buf)) < 12+length {
			break
		}
		data := buf[8 : 8+length]
		if chunkType == pngPayloadChunkType {
			return string(data), nil
		}
		if chunkType == "IEND" {
			break
		}
		buf = buf[12+length:]
	}
	return "", errNoPayloadChunk
}
