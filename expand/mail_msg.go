package expand

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/richardlehane/mscfb"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Outlook .msg files are OLE2 compound files. Each MAPI property lives in a
// stream named __substg1.0_TTTTYYYY (tag, type); attachments are storages
// named __attach_version1.0_#NNNNNNNN.
const (
	attachPrefix  = "__attach_version1.0_#"
	substgPrefix  = "__substg1.0_"
	propsStream   = "__properties_version1.0"
	embeddedMsg   = "__substg1.0_3701000D"
	rootEntryName = "Root Entry"

	tagSubject     = "0037"
	tagSenderName  = "0C1A"
	tagSenderEmail = "0C1F"
	tagDisplayTo   = "0E04"
	tagDisplayCc   = "0E03"
	tagBody        = "1000"
	tagHTML        = "1013"
	tagLongName    = "3707"
	tagShortName   = "3704"
	tagDisplayName = "3001"
	tagMIMETag     = "370E"
	tagAttachData  = "3701"

	tagSubmitTime = 0x0039
	typeSysTime   = 0x0040
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

type msgProps map[string][]byte

// str returns a string property, UTF-16 (001F) preferred over 8-bit (001E).
func (p msgProps) str(tag string) string {
	if raw, ok := p[tag+"001F"]; ok {
		s, err := utf16le.NewDecoder().Bytes(raw)
		if err == nil {
			return strings.TrimRight(string(s), "\x00")
		}
	}
	if raw, ok := p[tag+"001E"]; ok {
		if utf8.Valid(raw) {
			return strings.TrimRight(string(raw), "\x00")
		}
		s, err := charmap.Windows1252.NewDecoder().Bytes(raw)
		if err == nil {
			return strings.TrimRight(string(s), "\x00")
		}
	}
	return ""
}

// readMsg parses an Outlook message. Embedded messages (attachments that are
// themselves messages) are not descended into.
func readMsg(path string, limit int64) (*mailMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := mscfb.New(f)
	if err != nil {
		return nil, fmt.Errorf("open msg: %w", err)
	}

	top := msgProps{}
	attachments := map[string]msgProps{}
	var order []string
	var submitted time.Time

	for e, err := doc.Next(); err == nil; e, err = doc.Next() {
		parents := storagePath(e.Path)
		switch {
		case len(parents) == 0 && strings.HasPrefix(e.Name, attachPrefix):
			if _, ok := attachments[e.Name]; !ok {
				attachments[e.Name] = msgProps{}
				order = append(order, e.Name)
			}
		case len(parents) == 0 && e.Name == propsStream:
			submitted = submitTime(e)
		case len(parents) == 0 && strings.HasPrefix(e.Name, substgPrefix):
			data, err := readProp(e, limit)
			if err != nil {
				return nil, err
			}
			top[strings.TrimPrefix(e.Name, substgPrefix)] = data
		case len(parents) == 1 && strings.HasPrefix(parents[0], attachPrefix) && strings.HasPrefix(e.Name, substgPrefix):
			props, ok := attachments[parents[0]]
			if !ok {
				props = msgProps{}
				attachments[parents[0]] = props
				order = append(order, parents[0])
			}
			if e.Name == embeddedMsg {
				props["embedded"] = []byte{1}
				continue
			}
			data, err := readProp(e, limit)
			if err != nil {
				return nil, err
			}
			props[strings.TrimPrefix(e.Name, substgPrefix)] = data
		}
	}

	m := &mailMessage{
		Subject: top.str(tagSubject),
		To:      top.str(tagDisplayTo),
		Cc:      top.str(tagDisplayCc),
		Text:    top.str(tagBody),
	}
	m.From = top.str(tagSenderName)
	if email := top.str(tagSenderEmail); email != "" && email != m.From {
		if m.From == "" {
			m.From = email
		} else {
			m.From = fmt.Sprintf("%s <%s>", m.From, email)
		}
	}
	if !submitted.IsZero() {
		m.Date = submitted.UTC().Format(time.RFC1123Z)
	}
	if raw, ok := top[tagHTML+"0102"]; ok {
		m.HTML = decodeHTML(raw)
	} else {
		m.HTML = top.str(tagHTML)
	}

	for _, key := range order {
		props := attachments[key]
		data, ok := props[tagAttachData+"0102"]
		if !ok || props["embedded"] != nil {
			continue
		}
		name := props.str(tagLongName)
		if name == "" {
			name = props.str(tagShortName)
		}
		if name == "" {
			name = props.str(tagDisplayName)
		}
		m.Attachments = append(m.Attachments, attachment{Name: name, MIME: props.str(tagMIMETag), Data: data})
	}
	return m, nil
}

// storagePath drops the root storage from a compound-file path.
func storagePath(p []string) []string {
	if len(p) > 0 && p[0] == rootEntryName {
		return p[1:]
	}
	return p
}

func readProp(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read msg property: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: msg property above %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}

// submitTime reads PR_CLIENT_SUBMIT_TIME from the top-level fixed property
// stream: a 32-byte header then 16-byte records (type, id, flags, value).
func submitTime(r io.Reader) time.Time {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil || len(data) < 32 {
		return time.Time{}
	}
	for off := 32; off+16 <= len(data); off += 16 {
		typ := binary.LittleEndian.Uint16(data[off:])
		id := binary.LittleEndian.Uint16(data[off+2:])
		if id == tagSubmitTime && typ == typeSysTime {
			return fileTime(binary.LittleEndian.Uint64(data[off+8:]))
		}
	}
	return time.Time{}
}

// fileTime converts a Windows FILETIME (100ns ticks since 1601) to time.Time.
func fileTime(ft uint64) time.Time {
	const epochDelta = 116444736000000000
	if ft < epochDelta {
		return time.Time{}
	}
	ticks := ft - epochDelta
	return time.Unix(int64(ticks/10_000_000), int64(ticks%10_000_000)*100)
}

// decodeHTML turns a binary HTML body into a string, honouring a meta
// charset when the bytes are not UTF-8.
func decodeHTML(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	enc, _, _ := charset.DetermineEncoding(raw, "text/html")
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func (x *Expander) walkMsg(ctx context.Context, path string, visit visitFunc) error {
	m, err := readMsg(path, x.maxBytes)
	if err != nil {
		return err
	}
	return m.emit(ctx, visit)
}
