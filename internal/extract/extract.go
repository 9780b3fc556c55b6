// Package extract turns files on disk into indexable documents: extracted
// text plus the page images used by the vision path.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// DefaultMaxTextBytes caps the text read from a single file.
const DefaultMaxTextBytes = 16 << 20

// Result is the extracted content of one file.
type Result struct {
	Path     string
	Name     string
	MimeType string
	Text     string

	// PageImages are page image paths in page order.
	PageImages []string

	// PageCount is the number of PDF pages, or 1 for an image.
	PageCount int
}

// Options configures File.
type Options struct {
	// PagesDir holds pre-rendered page images for a PDF. Images are taken in
	// lexical order.
	PagesDir string

	// MaxTextBytes caps the text read from plain files (default 16 MiB).
	MaxTextBytes int64
}

// File extracts path. Images become a single page; PDFs yield their text
// layer and, with PagesDir set, their rendered pages.
func File(path string, opts Options) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, raerrors.ValidationError(fmt.Sprintf("cannot read %s", path), err)
	}
	if info.IsDir() {
		return Result{}, raerrors.ValidationError(fmt.Sprintf("%s is a directory", path), nil)
	}

	res := Result{
		Path:     path,
		Name:     filepath.Base(path),
		MimeType: MimeTypeForPath(path),
	}

	switch {
	case IsImage(res.MimeType):
		res.PageImages = []string{path}
		res.PageCount = 1
	case res.MimeType == "application/pdf":
		text, pages, err := PDFText(path)
		if err != nil {
			return Result{}, err
		}
		res.Text = text
		res.PageCount = pages
	default:
		text, err := readText(path, opts.maxTextBytes())
		if err != nil {
			return Result{}, err
		}
		res.Text = text
	}

	if opts.PagesDir != "" {
		images, err := PageImages(opts.PagesDir)
		if err != nil {
			return Result{}, err
		}
		res.PageImages = images
		if res.PageCount == 0 {
			res.PageCount = len(images)
		}
	}
	return res, nil
}

// PDFText returns the plain text layer of a PDF and its page count.
func PDFText(path string) (string, int, error) {
	f, rdr, err := pdf.Open(path)
	if err != nil {
		return "", 0, raerrors.ValidationError(fmt.Sprintf("failed to open pdf %s", path), err)
	}
	defer f.Close()

	b, err := rdr.GetPlainText()
	if err != nil {
		return "", 0, raerrors.ValidationError(fmt.Sprintf("failed to read pdf text %s", path), err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, b); err != nil {
		return "", 0, raerrors.ValidationError(fmt.Sprintf("failed to read pdf buffer %s", path), err)
	}
	return strings.TrimSpace(buf.String()), rdr.NumPage(), nil
}

// PageImages lists the image files of dir in lexical order.
func PageImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, raerrors.ValidationError(fmt.Sprintf("cannot read pages dir %s", dir), err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !IsImage(MimeTypeForPath(e.Name())) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func readText(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", raerrors.ValidationError(fmt.Sprintf("cannot open %s", path), err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", raerrors.ValidationError(fmt.Sprintf("cannot read %s", path), err)
	}
	if !utf8.Valid(data) {
		return "", raerrors.ValidationError(fmt.Sprintf("%s is not valid UTF-8 text", path), nil)
	}
	return string(data), nil
}

func (o Options) maxTextBytes() int64 {
	if o.MaxTextBytes > 0 {
		return o.MaxTextBytes
	}
	return DefaultMaxTextBytes
}
