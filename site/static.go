// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package site

import (
	"embed"
	"io/fs"
)

//go:embed static
var staticFiles embed.FS

// StaticFS returns the stylesheet and scripts shared by all pages, rooted
// at the static directory.
func StaticFS() fs.FS {
	sub, err := fs.Sub(staticFiles, StaticDir)
	if err != nil {
		panic(err)
	}
	return sub
}
