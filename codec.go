// Copyright 2026 The Kwery Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kwery

import "reflect"

// QueryCodec knows how to turn a query key of one concrete type into bytes
// and back. A [Serializer] holds one QueryCodec per query type it is
// willing to persist; a query type with none registered is not
// serializable, and entries that depend on it are skipped during a dump
// (they still appear as transient dependencies wherever they are
// referenced).
type QueryCodec interface {
	// EncodeKey renders key (a value of the concrete query type this codec
	// is registered for) to bytes.
	EncodeKey(key any) ([]byte, error)
	// DecodeKey parses bytes produced by EncodeKey back into a query key.
	DecodeKey(data []byte) (any, error)
}

// ValueCodec knows how to turn a query's cached result value into bytes
// and back. Like [QueryCodec], one is registered per query type.
type ValueCodec interface {
	// EncodeValue renders value (the cached result of key) to bytes.
	EncodeValue(key any, value any) ([]byte, error)
	// DecodeValue parses bytes produced by EncodeValue back into a result
	// value for key.
	DecodeValue(key any, data []byte) (any, error)
}

// funcQueryCodec and funcValueCodec let callers register a codec as a pair
// of functions instead of defining a named type: a small functional
// adapter over a one-method interface, for call sites where a literal
// reads more clearly than a named type.
type funcQueryCodec struct {
	encode func(any) ([]byte, error)
	decode func([]byte) (any, error)
}

func (f funcQueryCodec) EncodeKey(key any) ([]byte, error)  { return f.encode(key) }
func (f funcQueryCodec) DecodeKey(data []byte) (any, error) { return f.decode(data) }

type funcValueCodec struct {
	encode func(any, any) ([]byte, error)
	decode func(any, []byte) (any, error)
}

func (f funcValueCodec) EncodeValue(key, value any) ([]byte, error) { return f.encode(key, value) }
func (f funcValueCodec) DecodeValue(key any, data []byte) (any, error) {
	return f.decode(key, data)
}

// QueryCodecFunc adapts a pair of functions to a [QueryCodec].
func QueryCodecFunc(encode func(any) ([]byte, error), decode func([]byte) (any, error)) QueryCodec {
	return funcQueryCodec{encode: encode, decode: decode}
}

// ValueCodecFunc adapts a pair of functions to a [ValueCodec].
func ValueCodecFunc(encode func(any, any) ([]byte, error), decode func(any, []byte) (any, error)) ValueCodec {
	return funcValueCodec{encode: encode, decode: decode}
}

// Serializer dumps an [Executor]'s graph to, and loads it back from, a
// topologically ordered snapshot. Query and value codecs are registered per
// concrete key type, keyed by its type name: a [Graph] only ever stores
// query keys (the result of Key()), so that is the type the serializer
// must recognize a query by, not the Query[T] type that produced it.
type Serializer struct {
	queryCodecs map[string]QueryCodec
	valueCodecs map[string]ValueCodec
}

// NewSerializer returns an empty Serializer: no key type is serializable
// until registered with [RegisterCodec].
func NewSerializer() *Serializer {
	return &Serializer{
		queryCodecs: make(map[string]QueryCodec),
		valueCodecs: make(map[string]ValueCodec),
	}
}

// RegisterCodec binds query and value codecs to the concrete key type K, so
// that a dump (see [Serializer.DumpText] and friends) can persist queries
// whose Key() returns a K, and the matching Load method can reconstruct
// them. K is ordinarily the query type itself (Key() ... { return q }),
// but may be a smaller dedicated key type.
func RegisterCodec[K any](s *Serializer, queries QueryCodec, values ValueCodec) {
	name := reflect.TypeFor[K]().String()
	s.queryCodecs[name] = queries
	s.valueCodecs[name] = values
}

// RegisterQueryCodec binds only a query codec to the concrete key type K,
// leaving it referenceable but not eligible for a full entry: a dump can
// still record a K key as the target of another entry's edge (a
// transient dependency), but never emits a value for it, and a load never
// materializes a node for it. Use this for key types whose cached value
// is not worth persisting, or cannot be, while other entries still need
// to name them in their dependency edges.
func RegisterQueryCodec[K any](s *Serializer, queries QueryCodec) {
	name := reflect.TypeFor[K]().String()
	s.queryCodecs[name] = queries
}
