// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/tenantrag/core"
)

// recordFormat prefixes every encoded record so the layout can evolve.
const recordFormat = 1

// encoder writes MUS encoded fields. With a nil buffer it only accumulates
// the encoded size, so the same field list drives sizing and marshaling.
type encoder struct {
	bs []byte
	n  int
}

func encode(fn func(e *encoder)) []byte {
	var sizer encoder
	fn(&sizer)
	e := &encoder{bs: make([]byte, sizer.n)}
	fn(e)
	return e.bs
}

func (e *encoder) int(v int) {
	if e.bs == nil {
		e.n += varint.Int.Size(v)
		return
	}
	e.n += varint.Int.Marshal(v, e.bs[e.n:])
}

func (e *encoder) id(v core.ID) {
	if e.bs == nil {
		e.n += varint.Uint64.Size(uint64(v))
		return
	}
	e.n += varint.Uint64.Marshal(uint64(v), e.bs[e.n:])
}

func (e *encoder) str(v string) {
	if e.bs == nil {
		e.n += ord.String.Size(v)
		return
	}
	e.n += ord.String.Marshal(v, e.bs[e.n:])
}

func (e *encoder) bool(v bool) {
	if e.bs == nil {
		e.n += ord.Bool.Size(v)
		return
	}
	e.n += ord.Bool.Marshal(v, e.bs[e.n:])
}

// time stores microseconds since the Unix epoch.
func (e *encoder) time(v time.Time) {
	us := v.UnixMicro()
	if e.bs == nil {
		e.n += varint.Int64.Size(us)
		return
	}
	e.n += varint.Int64.Marshal(us, e.bs[e.n:])
}

func (e *encoder) vector(v []float32) {
	e.int(len(v))
	for _, f := range v {
		if e.bs == nil {
			e.n += raw.Float32.Size(f)
			continue
		}
		e.n += raw.Float32.Marshal(f, e.bs[e.n:])
	}
}

// decoder reads MUS encoded fields. The first error sticks and every later
// read returns a zero value.
type decoder struct {
	bs  []byte
	n   int
	err error
}

func newDecoder(data []byte) *decoder {
	d := &decoder{bs: data}
	if format := d.int(); d.err == nil && format != recordFormat {
		d.err = fmt.Errorf("unknown record format %d", format)
	}
	return d
}

func (d *decoder) int() int {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) id() core.ID {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return core.ID(v)
}

func (d *decoder) str() string {
	if d.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) bool() bool {
	if d.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) time() time.Time {
	if d.err != nil {
		return time.Time{}
	}
	us, n, err := varint.Int64.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return time.UnixMicro(us).UTC()
}

func (d *decoder) vector() []float32 {
	length := d.int()
	if d.err != nil {
		return nil
	}
	if length < 0 || length*4 > len(d.bs)-d.n {
		d.err = ErrTruncatedData
		return nil
	}
	if length == 0 {
		return nil
	}
	v := make([]float32, length)
	for i := range v {
		f, n, err := raw.Float32.Unmarshal(d.bs[d.n:])
		d.n += n
		if err != nil {
			d.err = err
			return nil
		}
		v[i] = f
	}
	return v
}

func (d *decoder) finish() error {
	if d.err != nil {
		return fmt.Errorf("%w: %w", ErrSerializationFailed, d.err)
	}
	return nil
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, varint.Uint64.Size(uint64(id)))
	varint.Uint64.Marshal(uint64(id), buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	id, _, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return core.ID(id), nil
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	return encode(func(e *encoder) {
		e.int(recordFormat)
		e.str(string(doc.TenantID))
		e.str(doc.ID)
		e.int(doc.Version)
		e.str(doc.ContentHash)
		e.int(int(doc.Status))
		e.str(string(doc.Source))
		e.str(doc.Name)
		e.int(doc.ChunkCount)
		e.int(doc.FailedChunks)
		e.time(doc.InsertedAt)
		e.time(doc.UpdatedAt)
	})
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	d := newDecoder(data)
	doc := &core.Document{
		TenantID:     core.TenantID(d.str()),
		ID:           d.str(),
		Version:      d.int(),
		ContentHash:  d.str(),
		Status:       core.DocumentStatus(d.int()),
		Source:       core.SourceType(d.str()),
		Name:         d.str(),
		ChunkCount:   d.int(),
		FailedChunks: d.int(),
		InsertedAt:   d.time(),
		UpdatedAt:    d.time(),
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return doc, nil
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	return encode(func(e *encoder) {
		e.int(recordFormat)
		e.id(chunk.ID)
		e.str(string(chunk.TenantID))
		e.str(chunk.DocumentID)
		e.int(chunk.Version)
		e.int(chunk.Sequence)
		e.int(chunk.Start)
		e.int(chunk.End)
		e.str(chunk.Text)
		e.vector(chunk.Vector)
		e.bool(chunk.Superseded)
		e.str(chunk.EmbedError)
		e.time(chunk.InsertedAt)
		e.time(chunk.UpdatedAt)
	})
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	d := newDecoder(data)
	chunk := &core.Chunk{
		ID:         d.id(),
		TenantID:   core.TenantID(d.str()),
		DocumentID: d.str(),
		Version:    d.int(),
		Sequence:   d.int(),
		Start:      d.int(),
		End:        d.int(),
		Text:       d.str(),
		Vector:     d.vector(),
		Superseded: d.bool(),
		EmbedError: d.str(),
		InsertedAt: d.time(),
		UpdatedAt:  d.time(),
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return chunk, nil
}

// MarshalTask serializes a Task to bytes.
func MarshalTask(task *core.Task) []byte {
	return encode(func(e *encoder) {
		e.int(recordFormat)
		e.str(task.ID)
		e.str(string(task.TenantID))
		e.str(task.DocumentID)
		e.int(task.Version)
		e.str(task.IdempotencyKey)
		e.int(int(task.State))
		e.int(task.AttemptCount)
		e.str(task.LastError)
		e.bool(task.Result != nil)
		if r := task.Result; r != nil {
			e.str(r.DocumentID)
			e.int(r.Version)
			e.int(r.Chunks)
			e.int(r.Indexed)
			e.int(r.Skipped)
			e.int(r.Superseded)
		}
		e.time(task.CreatedAt)
		e.time(task.UpdatedAt)
	})
}

// UnmarshalTask deserializes a Task from bytes.
func UnmarshalTask(data []byte) (*core.Task, error) {
	d := newDecoder(data)
	task := &core.Task{
		ID:             d.str(),
		TenantID:       core.TenantID(d.str()),
		DocumentID:     d.str(),
		Version:        d.int(),
		IdempotencyKey: d.str(),
		State:          core.TaskState(d.int()),
		AttemptCount:   d.int(),
		LastError:      d.str(),
	}
	if d.bool() {
		task.Result = &core.IngestResult{
			DocumentID: d.str(),
			Version:    d.int(),
			Chunks:     d.int(),
			Indexed:    d.int(),
			Skipped:    d.int(),
			Superseded: d.int(),
		}
	}
	task.CreatedAt = d.time()
	task.UpdatedAt = d.time()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return task, nil
}

// MarshalSnapshot serializes an IndexSnapshot to bytes.
func MarshalSnapshot(snap *core.IndexSnapshot) []byte {
	return encode(func(e *encoder) {
		e.int(recordFormat)
		e.str(string(snap.TenantID))
		e.int(snap.Dimension)
		e.int(len(snap.Entries))
		for i := range snap.Entries {
			entry := &snap.Entries[i]
			e.id(entry.ChunkID)
			e.str(entry.DocumentID)
			e.int(entry.Version)
			e.vector(entry.Vector)
		}
		e.time(snap.UpdatedAt)
	})
}

// UnmarshalSnapshot deserializes an IndexSnapshot from bytes.
func UnmarshalSnapshot(data []byte) (*core.IndexSnapshot, error) {
	d := newDecoder(data)
	snap := &core.IndexSnapshot{
		TenantID:  core.TenantID(d.str()),
		Dimension: d.int(),
	}
	count := d.int()
	if d.err == nil && (count < 0 || count > len(data)) {
		d.err = ErrTruncatedData
	}
	if d.err == nil && count > 0 {
		snap.Entries = make([]core.IndexEntry, 0, count)
		for range count {
			entry := core.IndexEntry{
				ChunkID:    d.id(),
				DocumentID: d.str(),
				Version:    d.int(),
				Vector:     d.vector(),
			}
			if d.err != nil {
				break
			}
			snap.Entries = append(snap.Entries, entry)
		}
	}
	snap.UpdatedAt = d.time()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return snap, nil
}
