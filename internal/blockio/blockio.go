// Package blockio performs page-aligned asynchronous block I/O against
// volume files. Callers submit reads and writes and later drain completions
// with a non-blocking poll; every request owns one page-aligned buffer from
// submission until the caller observes its completion.
//
// The submit/poll pair shares a context that is not safe for concurrent use:
// submissions from concurrent goroutines must be externally serialized. The
// layer imposes no ordering between in-flight requests; callers needing
// ordering (two-phase stripe commits) submit the second phase only after
// Poll has reported all first-phase completions.
package blockio

import (
	"errors"
	"fmt"
	"os"

	"github.com/ncw/directio"
	"github.com/sirupsen/logrus"
)

const (
	// PageSize is the I/O granularity and buffer alignment.
	PageSize = 4096

	// MaxEvents bounds the completions drained by a single Poll and is the
	// default queue depth.
	MaxEvents = 128
)

var (
	// ErrSubmit reports a request that could not be queued. The request's
	// buffer is released before the error is returned.
	ErrSubmit = errors.New("blockio: submit failed")

	// ErrComplete reports a queued request that failed; the underlying OS
	// error is wrapped alongside.
	ErrComplete = errors.New("blockio: request failed")
)

// Request is the handle for one in-flight operation. It carries the logical
// location and the buffer for completion matching. The buffer belongs to the
// I/O layer from submit until Poll observes the completion, then ownership
// returns to the caller; freeing or reusing it while in flight is a contract
// violation.
type Request struct {
	StartPage int64
	NumPages  int
	Buffer    []byte
	Write     bool

	err  error
	done bool
}

// Done reports whether Poll has observed this request's completion.
func (r *Request) Done() bool { return r.done }

// Err returns the completion error, if any. Only meaningful once Done.
func (r *Request) Err() error { return r.err }

// Context owns an in-flight request queue. Create one per I/O loop.
type Context struct {
	depth       int
	inflight    int
	completions chan *Request
	log         *logrus.Logger
}

// NewContext returns a context with the given queue depth (MaxEvents when
// depth <= 0). A nil logger falls back to a default one.
func NewContext(depth int, logger *logrus.Logger) *Context {
	if depth <= 0 {
		depth = MaxEvents
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Context{
		depth:       depth,
		completions: make(chan *Request, depth),
		log:         logger,
	}
}

// OpenFile opens a volume file for direct I/O.
func OpenFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	return directio.OpenFile(path, flag, perm)
}

// AlignedBuffer allocates a page-aligned buffer of numPages pages.
func AlignedBuffer(numPages int) []byte {
	return directio.AlignedBlock(numPages * PageSize)
}

// SubmitRead queues a read of numPages pages at file offset
// startPage*PageSize into a freshly allocated page-aligned buffer owned by
// the returned request.
func (c *Context) SubmitRead(f *os.File, startPage int64, numPages int) (*Request, error) {
	req, err := c.queue(f, startPage, numPages, nil)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// SubmitWrite queues a write of data at file offset startPage*PageSize.
// len(data) must be a positive multiple of PageSize. The data is copied into
// the request's page-aligned buffer; the caller's slice is free immediately.
func (c *Context) SubmitWrite(f *os.File, startPage int64, data []byte) (*Request, error) {
	if len(data) == 0 || len(data)%PageSize != 0 {
		return nil, fmt.Errorf("%w: write of %d bytes is not page-sized", ErrSubmit, len(data))
	}
	return c.queue(f, startPage, len(data)/PageSize, data)
}

func (c *Context) queue(f *os.File, startPage int64, numPages int, writeData []byte) (*Request, error) {
	if numPages <= 0 {
		return nil, fmt.Errorf("%w: %d pages", ErrSubmit, numPages)
	}
	if c.inflight >= c.depth {
		c.log.WithFields(logrus.Fields{
			"inflight": c.inflight,
			"depth":    c.depth,
		}).Debug("blockio: queue full")
		return nil, fmt.Errorf("%w: queue full (%d in flight)", ErrSubmit, c.inflight)
	}

	req := &Request{
		StartPage: startPage,
		NumPages:  numPages,
		Buffer:    directio.AlignedBlock(numPages * PageSize),
		Write:     writeData != nil,
	}
	if writeData != nil {
		copy(req.Buffer, writeData)
	}

	c.inflight++
	go func() {
		var err error
		if req.Write {
			_, err = f.WriteAt(req.Buffer, req.StartPage*PageSize)
		} else {
			_, err = f.ReadAt(req.Buffer, req.StartPage*PageSize)
		}
		if err != nil {
			op := "read"
			if req.Write {
				op = "write"
			}
			req.err = fmt.Errorf("%w: %s pages [%d,%d): %w",
				ErrComplete, op, req.StartPage, req.StartPage+int64(req.NumPages), err)
		}
		c.completions <- req
	}()
	return req, nil
}

// Poll drains the completions currently available without blocking, marks
// their handles done, and returns the total pages completed. Completion
// errors are joined into the returned error; the corresponding handles also
// carry them individually.
func (c *Context) Poll() (int, error) {
	pages := 0
	var errs []error
	for drained := 0; drained < MaxEvents; drained++ {
		select {
		case req := <-c.completions:
			c.inflight--
			req.done = true
			pages += req.NumPages
			if req.err != nil {
				errs = append(errs, req.err)
			}
		default:
			return pages, errors.Join(errs...)
		}
	}
	return pages, errors.Join(errs...)
}

// WaitAll blocks until every in-flight request has completed, then reports
// like Poll. It is the phase barrier for callers that must order one batch
// of writes after another.
func (c *Context) WaitAll() (int, error) {
	pages := 0
	var errs []error
	for c.inflight > 0 {
		req := <-c.completions
		c.inflight--
		req.done = true
		pages += req.NumPages
		if req.err != nil {
			errs = append(errs, req.err)
		}
	}
	return pages, errors.Join(errs...)
}

// Inflight returns the number of submitted requests not yet drained.
func (c *Context) Inflight() int { return c.inflight }
