package eventstore

import json "github.com/goccy/go-json"

// Serializer converts a document to and from its partition byte
// encoding. Implementations must be symmetric: Decode(Encode(v)) must
// reproduce a value equal to v.
type Serializer[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONSerializer is the default Serializer, built on goccy/go-json.
type JSONSerializer[T any] struct{}

func (JSONSerializer[T]) Encode(v T) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
