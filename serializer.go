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

// Package-level Dump/Load entry points: three codec variants sharing the
// one topological algorithm in dump.go.
package kwery

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DumpText serializes the graph reachable from roots (or the whole graph,
// if roots is empty) to a human-readable YAML document. Round-tripping
// through [Serializer.LoadText] reproduces the same cached values and
// validity states, modulo set ordering.
func (s *Serializer) DumpText(g *Graph, roots ...any) ([]byte, error) {
	d, err := s.dumpGraph(g, roots)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(d)
}

// LoadText is the inverse of [Serializer.DumpText].
func (s *Serializer) LoadText(data []byte) (*Graph, error) {
	var d dump
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("kwery: decoding dump: %w", err)
	}
	return s.loadGraph(d)
}

// DumpBinary serializes the graph to a compact, deterministic binary
// encoding: fixed field order, big-endian length-prefixed strings and byte
// slices, no reflection. The format is internal and not guaranteed to be
// readable by a different version of this package.
func (s *Serializer) DumpBinary(g *Graph, roots ...any) ([]byte, error) {
	d, err := s.dumpGraph(g, roots)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(d.Entries)))
	for _, e := range d.Entries {
		writeEntry(&buf, e)
	}
	return buf.Bytes(), nil
}

// LoadBinary is the inverse of [Serializer.DumpBinary].
func (s *Serializer) LoadBinary(data []byte) (*Graph, error) {
	r := bytes.NewReader(data)
	count, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("kwery: decoding dump: %w", err)
	}
	d := dump{Entries: make([]entry, count)}
	for i := range d.Entries {
		e, err := readEntry(r)
		if err != nil {
			return nil, fmt.Errorf("kwery: decoding entry %d: %w", i, err)
		}
		d.Entries[i] = e
	}
	return s.loadGraph(d)
}

// DumpHex is [Serializer.DumpBinary], hex-encoded, for embedding a dump in
// a text-only context (a YAML scalar, a URL query parameter, a log line).
func (s *Serializer) DumpHex(g *Graph, roots ...any) (string, error) {
	b, err := s.DumpBinary(g, roots...)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// LoadHex is the inverse of [Serializer.DumpHex].
func (s *Serializer) LoadHex(text string) (*Graph, error) {
	b, err := hex.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("kwery: decoding hex dump: %w", err)
	}
	return s.LoadBinary(b)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	binary.Write(buf, binary.BigEndian, v) //nolint:errcheck // bytes.Buffer writes never fail
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return nil, err
	}
	return b, nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeDepRef(buf *bytes.Buffer, d depRef) {
	writeString(buf, d.TypeName)
	writeBytes(buf, d.KeyBytes)
}

func readDepRef(r *bytes.Reader) (depRef, error) {
	typeName, err := readString(r)
	if err != nil {
		return depRef{}, err
	}
	keyBytes, err := readBytes(r)
	if err != nil {
		return depRef{}, err
	}
	return depRef{TypeName: typeName, KeyBytes: keyBytes}, nil
}

// writeEntry encodes one entry in fixed field order:
//
//	type:string key:bytes success:uint8 value:bytes error:string
//	validity:uint8 localDeps:(uint32 count, uint32*) transientDeps:(uint32 count, depRef*)
func writeEntry(buf *bytes.Buffer, e entry) {
	writeString(buf, e.TypeName)
	writeBytes(buf, e.KeyBytes)
	if e.Success {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeBytes(buf, e.ValueBytes)
	writeString(buf, e.ErrMsg)
	buf.WriteByte(byte(e.Validity))

	writeUint32(buf, uint32(len(e.LocalDeps)))
	for _, idx := range e.LocalDeps {
		writeUint32(buf, uint32(idx))
	}
	writeUint32(buf, uint32(len(e.TransientDeps)))
	for _, d := range e.TransientDeps {
		writeDepRef(buf, d)
	}
}

func readEntry(r *bytes.Reader) (entry, error) {
	var e entry
	var err error
	if e.TypeName, err = readString(r); err != nil {
		return e, err
	}
	if e.KeyBytes, err = readBytes(r); err != nil {
		return e, err
	}
	successByte, err := r.ReadByte()
	if err != nil {
		return e, err
	}
	e.Success = successByte == 1
	if e.ValueBytes, err = readBytes(r); err != nil {
		return e, err
	}
	if e.ErrMsg, err = readString(r); err != nil {
		return e, err
	}
	validityByte, err := r.ReadByte()
	if err != nil {
		return e, err
	}
	e.Validity = Validity(validityByte)

	localCount, err := readUint32(r)
	if err != nil {
		return e, err
	}
	e.LocalDeps = make([]int, localCount)
	for i := range e.LocalDeps {
		idx, err := readUint32(r)
		if err != nil {
			return e, err
		}
		e.LocalDeps[i] = int(idx)
	}

	transientCount, err := readUint32(r)
	if err != nil {
		return e, err
	}
	e.TransientDeps = make([]depRef, transientCount)
	for i := range e.TransientDeps {
		if e.TransientDeps[i], err = readDepRef(r); err != nil {
			return e, err
		}
	}

	return e, nil
}
