package expand

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/hazyhaar/topdf/convert"
)

// maxRatio is the compression ratio above which a large zip member is treated
// as a decompression bomb.
const (
	maxRatio      = 1000
	ratioMinBytes = 1 << 20
)

// walkFunc enumerates the members of the container at path.
type walkFunc func(ctx context.Context, path string, visit visitFunc) error

func walkZip(ctx context.Context, path string, visit visitFunc) error {
	// Non-local names are reported per entry by cleanEntry.
	r, err := zip.OpenReader(path)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	if err := checkZipBomb(r.File); err != nil {
		return err
	}
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Flags&0x1 != 0 {
			return &convert.AuthError{Path: path, Reason: "encrypted archive", Err: ErrEncrypted}
		}
		f := f
		err := visit(entry{
			name: zipName(f),
			dir:  f.FileInfo().IsDir(),
			size: int64(f.UncompressedSize64),
			open: func() (io.ReadCloser, error) { return f.Open() },
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// checkZipBomb rejects archives whose members declare an implausible
// compression ratio.
func checkZipBomb(files []*zip.File) error {
	for _, f := range files {
		if f.UncompressedSize64 < ratioMinBytes {
			continue
		}
		if f.CompressedSize64 == 0 || f.UncompressedSize64/f.CompressedSize64 > maxRatio {
			return fmt.Errorf("%w: %s compression ratio above %d:1", ErrTooLarge, f.Name, maxRatio)
		}
	}
	return nil
}

// zipName decodes a member name. Names that are not valid UTF-8 are CP437,
// the zip default when the UTF-8 flag (bit 11) is absent.
func zipName(f *zip.File) string {
	if f.Flags&0x800 == 0 && !utf8.ValidString(f.Name) {
		if s, err := charmap.CodePage437.NewDecoder().String(f.Name); err == nil {
			return s
		}
	}
	return f.Name
}

func walkTar(ctx context.Context, path string, visit visitFunc, decompress func(io.Reader) (io.Reader, error)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var src io.Reader = f
	if decompress != nil {
		if src, err = decompress(f); err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
	}
	tr := tar.NewReader(src)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := visit(entry{name: hdr.Name, dir: true}); err != nil {
				return err
			}
		case tar.TypeReg:
			// The tar stream is sequential: the member is readable only now.
			err := visit(entry{
				name: hdr.Name,
				size: hdr.Size,
				open: func() (io.ReadCloser, error) { return io.NopCloser(tr), nil },
			})
			if err != nil {
				return err
			}
		}
		// Links, devices and fifos are not extracted.
	}
}

func gunzip(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) }
func bunzip(r io.Reader) (io.Reader, error) { return bzip2.NewReader(r), nil }

func walk7z(ctx context.Context, path string, visit visitFunc) error {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return authOr(path, fmt.Errorf("open 7z: %w", err))
	}
	defer r.Close()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := f
		err := visit(entry{
			name: f.Name,
			dir:  f.FileInfo().IsDir(),
			size: int64(f.UncompressedSize),
			open: func() (io.ReadCloser, error) { return f.Open() },
		})
		if err != nil {
			return authOr(path, err)
		}
	}
	return nil
}

func walkRar(ctx context.Context, path string, visit visitFunc) error {
	r, err := rardecode.OpenReader(path)
	if err != nil {
		return authOr(path, fmt.Errorf("open rar: %w", err))
	}
	defer r.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return authOr(path, fmt.Errorf("read rar: %w", err))
		}
		if hdr.Encrypted {
			return &convert.AuthError{Path: path, Reason: "encrypted archive", Err: ErrEncrypted}
		}
		size := hdr.UnPackedSize
		if hdr.UnKnownSize {
			size = -1
		}
		err = visit(entry{
			name: hdr.Name,
			dir:  hdr.IsDir,
			size: size,
			open: func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
		})
		if err != nil {
			return err
		}
	}
}

// authOr turns library errors that mention a password into an AuthError so
// the container reports skipped_password.
func authOr(path string, err error) error {
	if convert.IsAuthFailure(err, path) {
		return &convert.AuthError{Path: path, Reason: "encrypted archive", Err: err}
	}
	return err
}
