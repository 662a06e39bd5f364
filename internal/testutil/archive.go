// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"io"
	"maps"
	"os"
	"slices"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Entry is one member of a test archive. Type defaults to a regular file;
// Mode defaults to 0o644 for files and 0o755 for directories.
type Entry struct {
	Name     string
	Body     string
	Mode     int64
	Type     byte // tar.TypeReg, tar.TypeDir, tar.TypeSymlink or tar.TypeLink
	Linkname string
}

// File returns a regular file entry.
func File(name, body string) Entry {
	return Entry{Name: name, Body: body, Type: tar.TypeReg}
}

// Dir returns a directory entry; name should end in "/".
func Dir(name string) Entry {
	return Entry{Name: name, Type: tar.TypeDir}
}

// Symlink returns a symbolic link entry pointing at target.
func Symlink(name, target string) Entry {
	return Entry{Name: name, Type: tar.TypeSymlink, Linkname: target}
}

// Hardlink returns a hard link entry to another archive member.
func Hardlink(name, target string) Entry {
	return Entry{Name: name, Type: tar.TypeLink, Linkname: target}
}

// Package lays files out the way npm tarballs do: every path under a leading
// "package/" directory, in sorted order.
func Package(files map[string]string) []Entry {
	entries := make([]Entry, 0, len(files))
	for _, name := range slices.Sorted(maps.Keys(files)) {
		entries = append(entries, File("package/"+name, files[name]))
	}
	return entries
}

// Tar returns an uncompressed tar archive of entries.
func Tar(t testing.TB, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	writeTar(t, &buf, entries)
	return buf.Bytes()
}

// TarGz returns a gzip-compressed tar archive of entries.
func TarGz(t testing.TB, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	writeTar(t, gw, entries)
	if err := gw.Close(); err != nil {
		t.Fatalf("closing gzip writer: %v", err)
	}
	return buf.Bytes()
}

// TarZst returns a zstd-compressed tar archive of entries.
func TarZst(t testing.TB, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("creating zstd writer: %v", err)
	}
	writeTar(t, zw, entries)
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zstd writer: %v", err)
	}
	return buf.Bytes()
}

// Zip returns a zip archive of entries. Hard links are not representable and
// fail the test.
func Zip(t testing.TB, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		fh := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		body := e.Body
		switch e.Type {
		case tar.TypeDir:
			fh.SetMode(os.ModeDir | os.FileMode(modeOr(e.Mode, 0o755)))
			body = ""
		case tar.TypeSymlink:
			fh.SetMode(os.ModeSymlink | 0o777)
			body = e.Linkname
		case tar.TypeLink:
			t.Fatalf("zip cannot hold hard link %s", e.Name)
		default:
			fh.SetMode(os.FileMode(modeOr(e.Mode, 0o644)))
		}
		w, err := zw.CreateHeader(fh)
		if err != nil {
			t.Fatalf("writing zip header %s: %v", e.Name, err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			t.Fatalf("writing zip body %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	return buf.Bytes()
}

func writeTar(t testing.TB, w io.Writer, entries []Entry) {
	t.Helper()
	tw := tar.NewWriter(w)
	for _, e := range entries {
		typ := e.Type
		if typ == 0 {
			typ = tar.TypeReg
		}
		hdr := &tar.Header{
			Name:     e.Name,
			Typeflag: typ,
			Linkname: e.Linkname,
			Mode:     modeOr(e.Mode, 0o644),
			Format:   tar.FormatPAX,
		}
		switch typ {
		case tar.TypeDir:
			hdr.Mode = modeOr(e.Mode, 0o755)
		case tar.TypeReg:
			hdr.Size = int64(len(e.Body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("writing tar header %s: %v", e.Name, err)
		}
		if typ == tar.TypeReg {
			if _, err := io.WriteString(tw, e.Body); err != nil {
				t.Fatalf("writing tar body %s: %v", e.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar writer: %v", err)
	}
}

func modeOr(mode, fallback int64) int64 {
	if mode == 0 {
		return fallback
	}
	return mode
}
