package couchapi

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// Part is one body part of a multipart document response.
type Part struct {
	Header textproto.MIMEHeader
	Data   []byte
}

// ContentType returns the media type of the part.
func (p Part) ContentType() string {
	return p.Header.Get("Content-Type")
}

// Filename returns the attachment name announced by the part's
// Content-Disposition header.
func (p Part) Filename() string {
	_, params, err := mime.ParseMediaType(p.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

// IsMultipart reports whether contentType is a multipart media type.
func IsMultipart(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && strings.HasPrefix(mediaType, "multipart/")
}

// ReadParts splits a multipart body into its parts.
func ReadParts(contentType string, body io.Reader) ([]Part, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("couchapi: parse content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("couchapi: not a multipart payload: %s", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, errors.New("couchapi: multipart payload without boundary")
	}

	reader := multipart.NewReader(body, boundary)
	var parts []Part
	for {
		p, err := reader.NextRawPart()
		if errors.Is(err, io.EOF) {
			return parts, nil
		}
		if err != nil {
			return nil, fmt.Errorf("couchapi: read part: %w", err)
		}
		data, err := io.ReadAll(p)
		_ = p.Close()
		if err != nil {
			return nil, fmt.Errorf("couchapi: read part body: %w", err)
		}
		parts = append(parts, Part{Header: p.Header, Data: data})
	}
}
