// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package manifest

import (
	"encoding/binary"
	"io"

	"github.com/samber/oops"
)

// Container layout constants.
const (
	// Magic identifies an extension container.
	Magic uint32 = 0x0DEBAC1E
	// HeaderLength is the size of the fixed header in bytes.
	HeaderLength = 30
	// FileSuffix is the file name suffix of extension containers.
	FileSuffix = ".bec"
	// MaxManifestLength bounds the manifest payload.
	MaxManifestLength = 4 << 20
)

// Header is the fixed-size prefix of a container.
//
// Layout, big-endian:
//
//	uint32 magic
//	uint16 flags
//	int64  manifest length
//	int64  signature length
//	int64  content length
type Header struct {
	Flags           Flags
	ManifestLength  int64
	SignatureLength int64
	ContentLength   int64
}

// ContentOffset returns the byte offset of the content archive.
func (h Header) ContentOffset() int64 {
	return HeaderLength + h.SignatureLength + h.ManifestLength
}

// Size returns the total container size described by the header.
func (h Header) Size() int64 {
	return h.ContentOffset() + h.ContentLength
}

// ReadHeader reads and checks the fixed header.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderLength]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, oops.Code(CodeManifestInvalid).Wrapf(err, "truncated container header")
	}

	if magic := binary.BigEndian.Uint32(buf[0:4]); magic != Magic {
		return Header{}, oops.Code(CodeManifestInvalid).
			With("magic", magic).
			Errorf("illegal extension header")
	}

	h := Header{
		Flags:           Flags(binary.BigEndian.Uint16(buf[4:6])),
		ManifestLength:  int64(binary.BigEndian.Uint64(buf[6:14])),  //nolint:gosec // range checked below
		SignatureLength: int64(binary.BigEndian.Uint64(buf[14:22])), //nolint:gosec // range checked below
		ContentLength:   int64(binary.BigEndian.Uint64(buf[22:30])), //nolint:gosec // range checked below
	}

	switch {
	case h.ManifestLength <= 0 || h.ManifestLength > MaxManifestLength:
		return Header{}, oops.Code(CodeManifestInvalid).
			With("manifest_length", h.ManifestLength).
			Errorf("manifest length out of range")
	case h.SignatureLength != 0:
		return Header{}, oops.Code(CodeManifestInvalid).
			With("signature_length", h.SignatureLength).
			Errorf("signed containers are not supported")
	case h.ContentLength < 0:
		return Header{}, oops.Code(CodeManifestInvalid).
			With("content_length", h.ContentLength).
			Errorf("negative content length")
	}
	return h, nil
}

// MarshalBinary encodes the header.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderLength)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint16(buf[4:6], uint16(h.Flags))
	binary.BigEndian.PutUint64(buf[6:14], uint64(h.ManifestLength))   //nolint:gosec // lengths are non-negative
	binary.BigEndian.PutUint64(buf[14:22], uint64(h.SignatureLength)) //nolint:gosec // lengths are non-negative
	binary.BigEndian.PutUint64(buf[22:30], uint64(h.ContentLength))   //nolint:gosec // lengths are non-negative
	return buf, nil
}
