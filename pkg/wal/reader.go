package wal

import (
	"bufio"
	"errors"
	"io"
	"os"
)

// Reader reads entries from a sequence of segments. An entry whose checksum
// fails is skipped; a torn or unframeable tail ends its segment.
type Reader struct {
	files   []string
	current int
	fd      *os.File
	br      *bufio.Reader

	// Skipped counts entries dropped for checksum mismatches
	Skipped int
}

// NewReader creates a reader for files in order
func NewReader(files []string) *Reader {
	return &Reader{files: files, current: -1}
}

// Next returns the next valid entry, or io.EOF after the last segment.
func (r *Reader) Next() (*Entry, error) {
	for {
		if r.br == nil {
			if err := r.nextFile(); err != nil {
				return nil, err
			}
		}

		entry, err := r.readEntry()
		switch {
		case err == nil:
			return entry, nil
		case errors.Is(err, ErrCorrupted) && entry == nil:
			// frame consumed, checksum failed
			r.Skipped++
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, ErrTruncated), errors.Is(err, errUnframeable):
			r.closeFile()
		default:
			return nil, err
		}
	}
}

var errUnframeable = errors.New("wal: unframeable entry")

func (r *Reader) readEntry() (*Entry, error) {
	header := make([]byte, EntryHeaderSize)
	if _, err := io.ReadFull(r.br, header); err != nil {
		return nil, err
	}
	n, err := bodyLen(header)
	if err != nil {
		return nil, errUnframeable
	}
	data := make([]byte, EntryHeaderSize+n)
	copy(data, header)
	if _, err := io.ReadFull(r.br, data[EntryHeaderSize:]); err != nil {
		return nil, err
	}
	return DecodeEntry(data)
}

func (r *Reader) nextFile() error {
	r.closeFile()
	r.current++
	if r.current >= len(r.files) {
		return io.EOF
	}
	fd, err := os.Open(r.files[r.current])
	if err != nil {
		return err
	}
	r.fd = fd
	r.br = bufio.NewReader(fd)
	return nil
}

func (r *Reader) closeFile() {
	if r.fd != nil {
		r.fd.Close()
	}
	r.fd, r.br = nil, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	r.closeFile()
	return nil
}

// ReadAll reads every valid entry from files
func ReadAll(files []string) ([]*Entry, error) {
	reader := NewReader(files)
	defer reader.Close()

	var entries []*Entry
	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
}
