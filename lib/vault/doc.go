// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault implements the request/response protocol between a
// controlling context and the isolated context that holds decrypted
// secrets.
//
// The vault side ([Server]) reads encrypted blobs from a
// blobstore.Store, decrypts them into sessions it owns, and answers
// with derived data only: signatures, public keys, fingerprints,
// session status and permissions. Response payloads are a closed set
// of types behind the [ResponsePayload] interface, none of which can
// carry secret bytes.
//
// The controlling side ([Client]) correlates responses by request ID
// and bounds each call with a timer on an injected clock. Timed-out or
// cancelled calls are dropped from the pending map and late responses
// for them are ignored.
//
// Messages travel over a [Channel]. [StreamChannel] frames CBOR
// messages over any byte stream: a Unix socket in production
// ([Listen], [Dial]) or an in-process [Pipe] in tests.
//
// Every request declares an origin. The server rejects origins outside
// its allowlist with origin_rejected before decoding the payload or
// touching a session, and rejects operations the origin is not granted
// with permission_denied.
package vault
