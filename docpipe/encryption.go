// CLAUDE:SUMMARY Structural detection of password-protected office documents (OLE2 flags, encrypted OOXML, ODF manifest).
package docpipe

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/richardlehane/mscfb"
)

var cfbMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// ProbeEncryption inspects an office document for a password obstacle without
// running any engine. It returns a non-empty reason when the document is
// encrypted. Unknown or unreadable layouts return "" and no error: the engines
// get to decide.
func ProbeEncryption(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 8)
	if _, err := io.ReadFull(f, head); err != nil {
		return "", nil
	}

	if bytes.Equal(head, cfbMagic) {
		return probeCFB(f)
	}
	if bytes.HasPrefix(head, []byte("PK")) {
		switch Ext(path) {
		case ".odt", ".ods", ".odp":
			return probeODF(path)
		}
	}
	return "", nil
}

// probeCFB handles OLE2 compound files: legacy .doc/.xls/.ppt and OOXML
// packages wrapped by Office encryption (EncryptionInfo + EncryptedPackage).
func probeCFB(r io.ReaderAt) (string, error) {
	doc, err := mscfb.New(r)
	if err != nil {
		return "", nil
	}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		switch entry.Name {
		case "EncryptionInfo", "EncryptedPackage":
			return "encrypted office package", nil
		case "EncryptedSummary":
			return "encrypted presentation", nil
		case "WordDocument":
			// FibBase.fEncrypted is bit 0x0100 of the flags word at offset 0x0A.
			fib := make([]byte, 12)
			if n, _ := io.ReadFull(entry, fib); n == len(fib) {
				if binary.LittleEndian.Uint16(fib[0x0A:])&0x0100 != 0 {
					return "encrypted Word document", nil
				}
			}
		case "Workbook", "Book":
			if xlsFilePass(entry) {
				return "encrypted Excel workbook", nil
			}
		}
	}
	return "", nil
}

// xlsFilePass scans the BIFF globals substream for a FILEPASS record.
func xlsFilePass(r io.Reader) bool {
	hdr := make([]byte, 4)
	for i := 0; i < 256; i++ {
		if _, err := io.ReadFull(r, hdr); err != nil {
			return false
		}
		typ := binary.LittleEndian.Uint16(hdr[0:])
		size := int64(binary.LittleEndian.Uint16(hdr[2:]))
		switch typ {
		case 0x002F: // FILEPASS
			return true
		case 0x0085, 0x000A: // BOUNDSHEET, EOF: past the point FILEPASS can appear
			return false
		}
		if _, err := io.CopyN(io.Discard, r, size); err != nil {
			return false
		}
	}
	return false
}

func probeODF(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", nil
	}
	defer r.Close()
	rc, err := openMember(r, "META-INF/manifest.xml")
	if err != nil {
		return "", nil
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, 1<<20))
	if err != nil && !errors.Is(err, io.EOF) {
		return "", nil
	}
	if strings.Contains(string(data), "encryption-data") {
		return "encrypted OpenDocument", nil
	}
	return "", nil
}
