package interchange

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// The PNG container variant stores the wrapped-card JSON base64-encoded
// in a single tEXt chunk keyed "chara", placed immediately before IEND.

const pngTextKeyword = "chara"

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

type pngChunk struct {
	typ  string
	data []byte
}

// ExtractCardFromPNG returns the wrapped-card JSON embedded in a PNG.
// A malformed PNG is not a valid container; a well-formed PNG with no
// chara chunk is an unrecognized schema.
func ExtractCardFromPNG(data []byte) ([]byte, error) {
	chunks, err := parsePNGChunks(data)
	if err != nil {
		return nil, err
	}
	for _, chunk := range chunks {
		if chunk.typ != "tEXt" {
			continue
		}
		keyword, text, ok := splitTextChunk(chunk.data)
		if !ok || keyword != pngTextKeyword {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("%w: embedded card payload is not base64", ErrNotContainer)
		}
		return decoded, nil
	}
	return nil, fmt.Errorf("%w: no embedded card chunk", ErrUnrecognizedSchema)
}

// EmbedCardInPNG writes the card JSON into the image, replacing any
// existing chara chunks so exactly one remains, just before IEND.
func EmbedCardInPNG(image []byte, cardJSON []byte) ([]byte, error) {
	chunks, err := parsePNGChunks(image)
	if err != nil {
		return nil, err
	}

	payload := base64.StdEncoding.EncodeToString(cardJSON)
	textData := make([]byte, 0, len(pngTextKeyword)+1+len(payload))
	textData = append(textData, pngTextKeyword...)
	textData = append(textData, 0)
	textData = append(textData, payload...)

	var out bytes.Buffer
	out.Write(pngSignature)
	for _, chunk := range chunks {
		if chunk.typ == "tEXt" {
			if keyword, _, ok := splitTextChunk(chunk.data); ok && keyword == pngTextKeyword {
				continue
			}
		}
		if chunk.typ == "IEND" {
			writePNGChunk(&out, pngChunk{typ: "tEXt", data: textData})
		}
		writePNGChunk(&out, chunk)
	}
	return out.Bytes(), nil
}

func parsePNGChunks(data []byte) ([]pngChunk, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, fmt.Errorf("%w: missing PNG signature", ErrNotContainer)
	}
	rest := data[len(pngSignature):]
	var chunks []pngChunk
	sawEnd := false
	for len(rest) > 0 {
		if len(rest) < 12 {
			return nil, fmt.Errorf("%w: truncated PNG chunk", ErrNotContainer)
		}
		length := binary.BigEndian.Uint32(rest[:4])
		if uint32(len(rest)) < 12+length {
			return nil, fmt.Errorf("%w: truncated PNG chunk", ErrNotContainer)
		}
		typ := string(rest[4:8])
		chunk := pngChunk{typ: typ, data: rest[8 : 8+length]}
		chunks = append(chunks, chunk)
		rest = rest[12+length:]
		if typ == "IEND" {
			sawEnd = true
			break
		}
	}
	if !sawEnd {
		return nil, fmt.Errorf("%w: missing IEND chunk", ErrNotContainer)
	}
	return chunks, nil
}

func writePNGChunk(out *bytes.Buffer, chunk pngChunk) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(chunk.data)))
	out.Write(length[:])
	out.WriteString(chunk.typ)
	out.Write(chunk.data)

	crc := crc32.NewIEEE()
	crc.Write([]byte(chunk.typ))
	crc.Write(chunk.data)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	out.Write(sum[:])
}

// splitTextChunk splits a tEXt chunk body at its NUL separator.
func splitTextChunk(data []byte) (keyword, text string, ok bool) {
	i := bytes.IndexByte(data, 0)
	if i < 0 {
		return "", "", false
	}
	return string(data[:i]), string(data[i+1:]), true
}
