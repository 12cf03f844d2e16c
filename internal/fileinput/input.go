// Package fileinput sequences named source inputs for the command-line
// harness: script files, -e expressions and stdin are queued and drained
// one whole source at a time.
package fileinput

import (
	"fmt"
	"io"
	"io/ioutil"
)

// Source is the complete text of one input along with its display name.
type Source struct {
	Name string
	Text string
}

// Input drains a Queue of readers, yielding one Source per reader. Readers
// that implement Name() string keep their name in error reports.
type Input struct {
	Queue []io.Reader
}

// Push appends a reader to the queue.
func (in *Input) Push(r io.Reader) {
	in.Queue = append(in.Queue, r)
}

// Next reads the next queued input in full. It returns io.EOF once the
// queue is drained, closing each reader that implements io.Closer.
func (in *Input) Next() (Source, error) {
	if len(in.Queue) == 0 {
		return Source{}, io.EOF
	}
	r := in.Queue[0]
	in.Queue = in.Queue[1:]

	name := nameOf(r)
	data, err := ioutil.ReadAll(r)
	if cl, ok := r.(io.Closer); ok {
		if cerr := cl.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return Source{Name: name}, err
	}
	return Source{Name: name, Text: string(data)}, nil
}

func nameOf(obj interface{}) string {
	if nom, ok := obj.(interface{ Name() string }); ok {
		return nom.Name()
	}
	return fmt.Sprintf("<unnamed %T>", obj)
}

// NamedReader attaches a display name to a reader.
func NamedReader(name string, r io.Reader) io.Reader {
	return namedReader{r, name}
}

type namedReader struct {
	io.Reader
	name string
}

func (nr namedReader) Name() string { return nr.name }
