package imagegen

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
)

// envelope is the JSON shape returned by JSON-wrapped providers. imageData is
// what the relay emits, image is the generic form, data is accepted for
// compatibility with older upstreams.
type envelope struct {
	Image     string `json:"image"`
	ImageData string `json:"imageData"`
	Data      string `json:"data"`
	Error     string `json:"error"`
}

func (e envelope) payload() string {
	switch {
	case e.ImageData != "":
		return e.ImageData
	case e.Image != "":
		return e.Image
	default:
		return e.Data
	}
}

// Normalize converts a provider response body into the canonical Image.
// Structured content types are parsed as a JSON envelope; anything else is
// treated as the image bytes.
func Normalize(body []byte, declaredContentType string) (Image, error) {
	mediaType := mediaTypeOf(declaredContentType)

	if isStructured(mediaType) {
		return normalizeEnvelope(body)
	}

	if len(body) == 0 {
		return Image{}, &NormalizationError{Reason: "empty response body"}
	}
	if strings.HasPrefix(mediaType, "image/") {
		return Image{Data: body, MIMEType: mediaType}, nil
	}
	sniffed := mediaTypeOf(http.DetectContentType(body))
	if !strings.HasPrefix(sniffed, "image/") {
		return Image{}, &NormalizationError{Reason: "response is " + describe(mediaType, sniffed) + ", not an image"}
	}
	return Image{Data: body, MIMEType: sniffed}, nil
}

func normalizeEnvelope(body []byte) (Image, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Image{}, &NormalizationError{Reason: "malformed JSON envelope", Err: err}
	}

	payload := strings.TrimSpace(env.payload())
	if payload == "" {
		reason := "JSON envelope has no image field"
		if env.Error != "" {
			reason += " (upstream error: " + env.Error + ")"
		}
		return Image{}, &NormalizationError{Reason: reason}
	}

	data, declared, err := decodePayload(payload)
	if err != nil {
		return Image{}, err
	}
	if len(data) == 0 {
		return Image{}, &NormalizationError{Reason: "embedded image is empty"}
	}

	if strings.HasPrefix(declared, "image/") {
		return Image{Data: data, MIMEType: declared}, nil
	}
	sniffed := mediaTypeOf(http.DetectContentType(data))
	if !strings.HasPrefix(sniffed, "image/") {
		return Image{}, &NormalizationError{Reason: "embedded payload is " + sniffed + ", not an image"}
	}
	return Image{Data: data, MIMEType: sniffed}, nil
}

// decodePayload strips an optional data URL prefix and base64-decodes the rest.
func decodePayload(payload string) ([]byte, string, error) {
	var declared string
	if strings.HasPrefix(payload, "data:") {
		header, rest, ok := strings.Cut(payload[len("data:"):], ",")
		if !ok {
			return nil, "", &NormalizationError{Reason: "data URL has no payload"}
		}
		params := strings.Split(header, ";")
		if params[len(params)-1] != "base64" {
			return nil, "", &NormalizationError{Reason: "data URL is not base64 encoded"}
		}
		declared = strings.ToLower(strings.TrimSpace(params[0]))
		payload = rest
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return nil, "", &NormalizationError{Reason: "invalid base64 image payload", Err: err}
	}
	return data, declared, nil
}

// DecodeImagePayload decodes a base64 string or data URL supplied by a caller.
func DecodeImagePayload(payload string) ([]byte, string, error) {
	data, declared, err := decodePayload(strings.TrimSpace(payload))
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", &NormalizationError{Reason: "image payload is empty"}
	}
	if declared == "" {
		declared = mediaTypeOf(http.DetectContentType(data))
	}
	return data, declared, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)

	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}

func mediaTypeOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func isStructured(mediaType string) bool {
	return mediaType == "application/json" || mediaType == "text/json" || strings.HasSuffix(mediaType, "+json")
}

func describe(declared, sniffed string) string {
	if declared != "" {
		return declared
	}
	return sniffed
}

// IsNormalizationError reports whether err stems from a response shape mismatch.
func IsNormalizationError(err error) bool {
	var ne *NormalizationError
	return errors.As(err, &ne)
}
