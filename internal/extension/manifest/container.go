// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package manifest

import (
	"bytes"
	"encoding/hex"
	"io"
	"os"

	"github.com/samber/oops"
	"golang.org/x/crypto/blake2b"
)

// Container is a decoded container file.
type Container struct {
	Path     string
	Header   Header
	Manifest *Manifest
	// Digest is the BLAKE2b-256 sum of the whole file.
	Digest [blake2b.Size256]byte
}

// DigestString returns the hex encoded digest.
func (c *Container) DigestString() string {
	return hex.EncodeToString(c.Digest[:])
}

// Decode reads a container header and manifest from r. Only the header and
// manifest payload are consumed.
func Decode(r io.Reader) (*Manifest, error) {
	_, m, err := decode(r)
	return m, err
}

func decode(r io.Reader) (Header, *Manifest, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}

	payload := make([]byte, h.ManifestLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Header{}, nil, oops.Code(CodeManifestInvalid).
			With("manifest_length", h.ManifestLength).
			Wrapf(err, "truncated manifest")
	}

	m, err := Parse(payload)
	if err != nil {
		return Header{}, nil, err
	}

	if h.Flags != m.Flags {
		return Header{}, nil, oops.Code(CodeManifestInvalid).
			With("identifier", m.Identifier).
			With("header_flags", uint16(h.Flags)).
			With("manifest_flags", uint16(m.Flags)).
			Errorf("header flags disagree with manifest")
	}
	return h, m, nil
}

// ReadContainer decodes the container at path and checks that its size
// matches the header.
func ReadContainer(path string) (*Container, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the configured extension directory
	if err != nil {
		return nil, oops.Code(CodeManifestInvalid).With("path", path).Wrapf(err, "failed to open container")
	}
	defer f.Close() //nolint:errcheck // read-only file

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to create digest")
	}

	h, m, err := decode(io.TeeReader(f, hasher))
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}

	rest, err := io.Copy(hasher, f)
	if err != nil {
		return nil, oops.Code(CodeManifestInvalid).With("path", path).Wrapf(err, "failed to read container")
	}
	if rest != h.SignatureLength+h.ContentLength {
		return nil, oops.Code(CodeManifestInvalid).
			With("path", path).
			With("expected_size", h.Size()).
			With("actual_size", h.ContentOffset()+rest).
			Errorf("container size does not match header")
	}

	c := &Container{Path: path, Header: h, Manifest: m}
	copy(c.Digest[:], hasher.Sum(nil))
	return c, nil
}

// WriteContainer writes a container holding manifestYAML and content to w.
// The manifest is validated first so that only decodable containers are
// produced.
func WriteContainer(w io.Writer, manifestYAML, content []byte) (Header, error) {
	m, err := Parse(manifestYAML)
	if err != nil {
		return Header{}, err
	}
	if len(manifestYAML) > MaxManifestLength {
		return Header{}, oops.Code(CodeManifestInvalid).
			With("manifest_length", len(manifestYAML)).
			Errorf("manifest too large")
	}

	h := Header{
		Flags:          m.Flags,
		ManifestLength: int64(len(manifestYAML)),
		ContentLength:  int64(len(content)),
	}
	raw, err := h.MarshalBinary()
	if err != nil {
		return Header{}, err
	}

	var buf bytes.Buffer
	buf.Grow(int(h.Size()))
	buf.Write(raw)
	buf.Write(manifestYAML)
	buf.Write(content)

	if _, err := buf.WriteTo(w); err != nil {
		return Header{}, oops.Wrapf(err, "failed to write container")
	}
	return h, nil
}
