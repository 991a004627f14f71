package index

import (
	"fmt"
)

// Field is a named, indexed and stored byte value of a document.
type Field struct {
	Name  string `msgpack:"n"`
	Value []byte `msgpack:"v"`
}

// Document is a list of fields. Every field is indexed as an exact-match term
// and stored, so the document can be read back from a Reader.
type Document struct {
	Fields []Field
}

// NewDocument creates a document from the given fields.
func NewDocument(fields ...Field) *Document {
	return &Document{Fields: fields}
}

// Add appends a field and returns the document for chaining.
func (d *Document) Add(name string, value []byte) *Document {
	d.Fields = append(d.Fields, Field{Name: name, Value: value})
	return d
}

// Get returns the value of the first field with the given name, or nil.
func (d *Document) Get(name string) []byte {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return nil
}

// clone returns a deep copy so that callers may reuse their buffers after adding.
func (d *Document) clone() []Field {
	fields := make([]Field, len(d.Fields))
	for i, f := range d.Fields {
		v := make([]byte, len(f.Value))
		copy(v, f.Value)
		fields[i] = Field{Name: f.Name, Value: v}
	}
	return fields
}

// StoredDocument is a document together with the sequence number assigned by
// the writer. Sequence numbers are strictly increasing in the order documents
// are added, are persisted with the document and never change, not even when
// segments are merged.
type StoredDocument struct {
	Seq    uint64
	Fields []Field
}

// Document returns a view of the stored fields. The returned document shares
// memory with the index and must not be modified.
func (s *StoredDocument) Document() *Document {
	return &Document{Fields: s.Fields}
}

// Term identifies the exact value of a field.
type Term struct {
	Field string
	Bytes []byte
}

// NewTerm creates a term for field and value.
func NewTerm(field string, value []byte) Term {
	return Term{Field: field, Bytes: value}
}

// key returns the lookup key used by postings and bloom filters.
func (t Term) key() string {
	return termKey(t.Field, t.Bytes)
}

func (t Term) String() string {
	return fmt.Sprintf("%s:%x", t.Field, t.Bytes)
}

func termKey(field string, value []byte) string {
	b := make([]byte, 0, len(field)+1+len(value))
	b = append(b, field...)
	b = append(b, 0)
	b = append(b, value...)
	return string(b)
}
