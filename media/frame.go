package media

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Frame is a timestamped encoded still image produced by a capture source.
// Frames are ephemeral: created, transmitted or dropped, then discarded.
type Frame struct {
	Image     EncodedImage
	Seq       int64
	Timestamp time.Time
}

// dataURLPrefix is the scheme marker for base64 data URLs.
const dataURLPrefix = "data:"

// DataURL renders the encoded image in the wire form the swap service
// expects: "data:<mime>;base64,<payload>".
func (e *EncodedImage) DataURL() string {
	mimeType := e.MIMEType
	if mimeType == "" {
		mimeType = MIMETypeJPEG
	}
	return dataURLPrefix + mimeType + ";base64," + base64.StdEncoding.EncodeToString(e.Data)
}

// ParseDataURL decodes a base64 data URL into an EncodedImage. A bare
// base64 payload without the data: prefix is accepted and assumed to be
// JPEG, matching what the service sends for processed frames.
func ParseDataURL(s string) (*EncodedImage, error) {
	if s == "" {
		return nil, newCodecError("parse", fmt.Errorf("empty payload"))
	}

	mimeType := MIMETypeJPEG
	payload := s

	if strings.HasPrefix(s, dataURLPrefix) {
		rest := strings.TrimPrefix(s, dataURLPrefix)
		meta, encoded, ok := strings.Cut(rest, ",")
		if !ok {
			return nil, newCodecError("parse", fmt.Errorf("malformed data URL"))
		}
		if mt, _, found := strings.Cut(meta, ";"); found && mt != "" {
			mimeType = mt
		} else if meta != "" && !found {
			mimeType = meta
		}
		payload = encoded
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, newCodecError("parse", err)
	}
	if len(data) == 0 {
		return nil, newCodecError("parse", fmt.Errorf("empty payload"))
	}

	return &EncodedImage{Data: data, MIMEType: mimeType}, nil
}
