package imap

import (
	"github.com/ValentinKolb/ixmap/lib/index"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Names of the two fields of every document
const (
	keyField   = "key"
	valueField = "value"
)

// mapWriter is the single write path of a map. Every key is stored as one
// document with the fields keyField and valueField; the key term identifies
// the document for updates and deletes.
//
// Thread-safety: safe for concurrent use, the index writer serializes mutations.
type mapWriter struct {
	dir    index.Directory
	writer *index.Writer
}

// openWriter opens (or creates) the index at opts.Path, or an in-memory index
// if the path is empty.
func openWriter(opts *Options) (*mapWriter, error) {
	var (
		dir index.Directory
		err error
	)
	if opts.Path == "" {
		dir = index.NewRAMDirectory()
	} else {
		dir, err = index.OpenFSDirectory(opts.Path, &index.FSOptions{LockTimeout: opts.LockTimeout})
		if err != nil {
			return nil, err
		}
	}

	wOpts := index.DefaultWriterOptions()
	wOpts.OpenMode = index.OpenModeCreateOrAppend
	wOpts.CorruptionPolicy = opts.CorruptionPolicy
	wOpts.CommitOnClose = true

	w, err := index.Open(dir, wOpts)
	if err != nil {
		if cErr := dir.Close(); cErr != nil {
			err = multierror.Append(err, cErr)
		}
		return nil, err
	}
	return &mapWriter{dir: dir, writer: w}, nil
}

func keyTerm(key []byte) index.Term {
	return index.NewTerm(keyField, key)
}

// upsert replaces the document of key (if any) by one holding value.
func (w *mapWriter) upsert(key, value []byte) error {
	doc := index.NewDocument().Add(keyField, key).Add(valueField, value)
	_, err := w.writer.UpdateDocument(keyTerm(key), doc)
	return errors.Wrap(err, "update document")
}

// delete removes the document of key. Deleting a missing key is a no-op.
func (w *mapWriter) delete(key []byte) error {
	return errors.Wrap(w.writer.DeleteDocuments(keyTerm(key)), "delete document")
}

// clear removes all documents.
func (w *mapWriter) clear() error {
	return errors.Wrap(w.writer.DeleteAll(), "delete all documents")
}

// commit makes all writes durable.
func (w *mapWriter) commit() error {
	return w.writer.Commit()
}

// close commits pending writes and releases the index.
func (w *mapWriter) close() error {
	var result *multierror.Error
	if err := w.writer.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.dir.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
