package wire

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var ErrMalformed = errors.New("malformed frame")

// compressThreshold is the payload size above which compressed sends are
// worth it.
const compressThreshold = 512

// MaxFrameSize bounds a frame on the wire and after decompression.
const MaxFrameSize = 1 << 20

func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// EncodeCompressed encodes f and gzips it when that makes the payload
// smaller. binary reports whether the result must be sent as a binary frame.
func EncodeCompressed(f Frame) (data []byte, binary bool, err error) {
	jsonData, err := Encode(f)
	if err != nil {
		return nil, false, err
	}
	if len(jsonData) <= compressThreshold {
		return jsonData, false, nil
	}
	compressed, err := CompressMessage(jsonData)
	if err != nil || len(compressed) >= len(jsonData) {
		return jsonData, false, nil
	}
	return compressed, true, nil
}

// Decode parses a text frame, or a gzip-compressed binary frame.
func Decode(data []byte, binary bool) (Frame, error) {
	var f Frame
	if binary {
		decompressed, err := DecompressMessage(data)
		if err != nil {
			return f, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		data = decompressed
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Type == "" {
		return f, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return f, nil
}

// CompressMessage compresses data using gzip
func CompressMessage(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)

	if _, err := gzipWriter.Write(data); err != nil {
		return nil, err
	}

	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecompressMessage decompresses gzip data
func DecompressMessage(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err = io.ReadAll(io.LimitReader(reader, MaxFrameSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("decompressed frame exceeds %d bytes", MaxFrameSize)
	}
	return data, nil
}
