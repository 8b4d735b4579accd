// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a bundle's payload is compressed. The
// value is the first byte of the payload inside the age envelope;
// changing the numbering breaks existing bundles.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name as accepted on the
// command line and in configuration.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd", "":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (expected none, lz4, or zstd)", name)
	}
}

// maxPayloadSize bounds the decompressed size a bundle may declare.
const maxPayloadSize = 64 * 1024 * 1024

// frameHeaderSize is the tag byte plus the 4-byte uncompressed length.
const frameHeaderSize = 5

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic("blobstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayloadSize))
	if err != nil {
		panic("blobstore: zstd decoder initialization failed: " + err.Error())
	}
}

// compressFrame returns [tag][uncompressed length][payload]. Data that
// does not shrink is stored uncompressed under CompressionNone.
func compressFrame(data []byte, compression Compression) ([]byte, error) {
	if len(data) > maxPayloadSize {
		return nil, fmt.Errorf("blobstore: bundle payload of %d bytes exceeds %d", len(data), maxPayloadSize)
	}

	var payload []byte
	switch compression {
	case CompressionNone:
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("blobstore: lz4 compress: %w", err)
		}
		if written > 0 && written < len(data) {
			payload = destination[:written]
		}
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) < len(data) {
			payload = compressed
		}
	default:
		return nil, fmt.Errorf("blobstore: unsupported compression %s", compression)
	}
	if payload == nil {
		compression = CompressionNone
		payload = data
	}

	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	frame[0] = byte(compression)
	binary.BigEndian.PutUint32(frame[1:], uint32(len(data)))
	return append(frame, payload...), nil
}

// decompressFrame reverses compressFrame and verifies the declared
// length.
func decompressFrame(frame []byte) ([]byte, error) {
	if len(frame) < frameHeaderSize {
		return nil, fmt.Errorf("blobstore: bundle payload is truncated")
	}
	compression := Compression(frame[0])
	size := int(binary.BigEndian.Uint32(frame[1:frameHeaderSize]))
	payload := frame[frameHeaderSize:]
	if size > maxPayloadSize {
		return nil, fmt.Errorf("blobstore: bundle declares %d bytes, limit is %d", size, maxPayloadSize)
	}

	var data []byte
	switch compression {
	case CompressionNone:
		data = payload
	case CompressionLZ4:
		data = make([]byte, size)
		read, err := lz4.UncompressBlock(payload, data)
		if err != nil {
			return nil, fmt.Errorf("blobstore: lz4 decompress: %w", err)
		}
		data = data[:read]
	case CompressionZstd:
		var err error
		data, err = zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("blobstore: zstd decompress: %w", err)
		}
	default:
		return nil, fmt.Errorf("blobstore: unsupported compression %s", compression)
	}
	if len(data) != size {
		return nil, fmt.Errorf("blobstore: bundle decompressed to %d bytes, expected %d", len(data), size)
	}
	return data, nil
}
