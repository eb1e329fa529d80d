// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package boundary

import (
	"bytes"
	"io/fs"

	"github.com/klauspost/compress/zip"
	"github.com/samber/oops"
)

// Archive packs every regular file of fsys into a zip archive suitable as
// container content. Entries are written in lexical order.
func Archive(fsys fs.FS) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err := fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	if err != nil {
		return nil, oops.Wrapf(err, "failed to archive content")
	}

	if err := zw.Close(); err != nil {
		return nil, oops.Wrapf(err, "failed to finish archive")
	}
	return buf.Bytes(), nil
}
