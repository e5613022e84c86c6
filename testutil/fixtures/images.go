// Package fixtures holds canned image payloads.
package fixtures

import "encoding/base64"

// PNG is a minimal PNG header, enough for content sniffing.
var PNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

// JPEG is a minimal JPEG/JFIF header.
var JPEG = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")

// PNGDataURL returns PNG as a data URL.
func PNGDataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(PNG)
}
