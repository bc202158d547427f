package ingest

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidPayload reports an image string that is not base64.
var ErrInvalidPayload = errors.New("invalid base64 image payload")

// DecodeBase64 decodes a base64 image, with or without a
// "data:image/<type>;base64," prefix.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 || !strings.HasSuffix(s[:idx], ";base64") {
			return nil, ErrInvalidPayload
		}
		s = s[idx+1:]
	}
	if s == "" {
		return nil, ErrInvalidPayload
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some clients drop the padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, ErrInvalidPayload
		}
	}
	return data, nil
}
