package xjson

import (
	stdjson "encoding/json"

	gjson "github.com/goccy/go-json"
)

// Marshal/Unmarshal wrappers so a single import site decides the JSON codec.
// Operation bodies, stored documents and wire payloads all go through here.

func Marshal(v interface{}) ([]byte, error) {
	return gjson.Marshal(v)
}

func Unmarshal(data []byte, v interface{}) error {
	return gjson.Unmarshal(data, v)
}

// Roundtrip re-encodes v and decodes it into out. Used to convert an opaque
// body value into a concrete type without the caller knowing how the body was
// originally set.
func Roundtrip(v interface{}, out interface{}) error {
	data, err := gjson.Marshal(v)
	if err != nil {
		return err
	}
	return gjson.Unmarshal(data, out)
}

// RawMessage is kept compatible with encoding/json's RawMessage type.
type RawMessage = stdjson.RawMessage
