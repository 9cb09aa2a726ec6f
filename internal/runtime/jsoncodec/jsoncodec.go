// Package jsoncodec is the single JSON entry point for sparked. Everything
// goes through sonic's std-compatible config so map key ordering and HTML
// escaping match encoding/json.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

// Decode reads one JSON value from r. Numbers are kept as json.Number so
// integer document fields survive a trip through an external broker.
func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

// Convert re-shapes src into dst by way of its JSON form. It is used to turn
// loosely typed bus messages (map[string]any) into request structs.
func Convert(src, dst any) error {
	data, err := Marshal(src)
	if err != nil {
		return err
	}
	return Unmarshal(data, dst)
}
