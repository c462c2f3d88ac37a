package expand

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"os"
	"strings"

	"golang.org/x/net/html/charset"
)

// maxMIMEDepth bounds multipart nesting.
const maxMIMEDepth = 16

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.NewReaderLabel}

func decodeHeader(v string) string {
	if s, err := wordDecoder.DecodeHeader(v); err == nil {
		return s
	}
	return v
}

// readEml parses an RFC 822 message. Text and HTML parts become the body,
// everything else (including nested messages) becomes an attachment.
func readEml(path string, limit int64) (*mailMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	msg, err := mail.ReadMessage(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("parse eml: %w", err)
	}
	m := &mailMessage{
		Subject: decodeHeader(msg.Header.Get("Subject")),
		From:    decodeHeader(msg.Header.Get("From")),
		To:      decodeHeader(msg.Header.Get("To")),
		Cc:      decodeHeader(msg.Header.Get("Cc")),
		Date:    msg.Header.Get("Date"),
	}
	if d, err := msg.Header.Date(); err == nil {
		m.Date = d.Format("Mon, 02 Jan 2006 15:04:05 -0700")
	}
	p := &emlParser{msg: m, limit: limit}
	if err := p.part(textproto.MIMEHeader(msg.Header), msg.Body, 0); err != nil {
		return nil, err
	}
	return m, nil
}

type emlParser struct {
	msg   *mailMessage
	limit int64
	read  int64
}

func (p *emlParser) part(h textproto.MIMEHeader, body io.Reader, depth int) error {
	if depth > maxMIMEDepth {
		return fmt.Errorf("parse eml: multipart nesting above %d", maxMIMEDepth)
	}
	ct := h.Get("Content-Type")
	if ct == "" {
		ct = "text/plain; charset=us-ascii"
	}
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType, params = "application/octet-stream", nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			sub, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("parse eml: %w", err)
			}
			if err := p.part(sub.Header, sub, depth+1); err != nil {
				return err
			}
		}
	}

	data, err := p.readBody(h.Get("Content-Transfer-Encoding"), body)
	if err != nil {
		return err
	}

	disposition, dparams, _ := mime.ParseMediaType(h.Get("Content-Disposition"))
	name := decodeHeader(dparams["filename"])
	if name == "" {
		name = decodeHeader(params["name"])
	}
	isBody := disposition != "attachment" && name == "" &&
		(mediaType == "text/plain" || mediaType == "text/html")

	if !isBody {
		p.msg.Attachments = append(p.msg.Attachments, attachment{Name: name, MIME: mediaType, Data: data})
		return nil
	}
	text := decodeCharset(data, ct)
	switch {
	case mediaType == "text/html" && p.msg.HTML == "":
		p.msg.HTML = text
	case mediaType == "text/plain" && p.msg.Text == "":
		p.msg.Text = text
	default:
		// A second body part of the same type is kept as a file.
		p.msg.Attachments = append(p.msg.Attachments, attachment{MIME: mediaType, Data: data})
	}
	return nil
}

func (p *emlParser) readBody(cte string, r io.Reader) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(cte)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	remaining := p.limit - p.read
	data, err := io.ReadAll(io.LimitReader(r, remaining+1))
	p.read += int64(len(data))
	if err != nil {
		return nil, fmt.Errorf("decode eml part: %w", err)
	}
	if int64(len(data)) > remaining {
		return nil, fmt.Errorf("%w: mail content above %d bytes", ErrTooLarge, p.limit)
	}
	return data, nil
}

func decodeCharset(data []byte, contentType string) string {
	r, err := charset.NewReader(bytes.NewReader(data), contentType)
	if err != nil {
		return string(data)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return string(data)
	}
	return string(out)
}

func (x *Expander) walkEml(ctx context.Context, path string, visit visitFunc) error {
	m, err := readEml(path, x.maxBytes)
	if err != nil {
		return err
	}
	return m.emit(ctx, visit)
}
