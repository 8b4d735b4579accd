// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// MaxValueSize is the largest single encoded value a stream reader
// should accept from a peer. Ciphertexts and signatures are tiny;
// exported bundles are the largest values and stay well below this.
const MaxValueSize = 16 * 1024 * 1024

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. Blob
// references are hashes of this encoding, so it must never change.
var encMode cbor.EncMode

// decMode accepts standard CBOR, ignores unknown fields, and rejects
// duplicate map keys so a crafted request cannot carry two payloads.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// schema.Kind and the vault request/response type enums implement
	// encoding.TextMarshaler and travel as text strings.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	// Audit timestamps keep nanosecond precision and stay readable in
	// exported bundles.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler:  cbor.TextUnmarshalerTextString,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 20,
		MaxNestedLevels:  32,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder. Type alias so consumers import only
// lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// RawMessage is a raw encoded CBOR value used to delay decoding of
// request and response payloads until the type field is known.
type RawMessage = cbor.RawMessage

// NewEncoder returns a CBOR encoder that writes to w using the
// deterministic configuration.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder that reads from r. Callers reading
// from untrusted peers should wrap r in an io.LimitReader.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
