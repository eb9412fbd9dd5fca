package blockio

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainFile avoids O_DIRECT so the tests run on any filesystem; alignment
// still holds because every buffer comes from AlignedBlock.
func plainFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(t.TempDir(), "vol"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestWriteThenReadBack(t *testing.T) {
	f := plainFile(t)
	c := NewContext(0, nil)

	data := make([]byte, 3*PageSize)
	rand.New(rand.NewSource(1)).Read(data)

	wr, err := c.SubmitWrite(f, 2, data)
	require.NoError(t, err)
	_, err = c.WaitAll()
	require.NoError(t, err)
	require.True(t, wr.Done())
	require.NoError(t, wr.Err())

	rd, err := c.SubmitRead(f, 2, 3)
	require.NoError(t, err)
	pages, err := c.WaitAll()
	require.NoError(t, err)
	assert.Equal(t, 3, pages)
	require.True(t, rd.Done())
	assert.Equal(t, data, rd.Buffer)
}

func TestPollIsNonBlocking(t *testing.T) {
	c := NewContext(4, nil)
	start := time.Now()
	pages, err := c.Poll()
	require.NoError(t, err)
	assert.Zero(t, pages)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPollDrainsCompletions(t *testing.T) {
	f := plainFile(t)
	c := NewContext(8, nil)

	var reqs []*Request
	for i := 0; i < 4; i++ {
		r, err := c.SubmitWrite(f, int64(i), make([]byte, PageSize))
		require.NoError(t, err)
		reqs = append(reqs, r)
	}

	total := 0
	deadline := time.Now().Add(5 * time.Second)
	for total < 4 && time.Now().Before(deadline) {
		pages, err := c.Poll()
		require.NoError(t, err)
		total += pages
	}
	assert.Equal(t, 4, total)
	assert.Zero(t, c.Inflight())
	for _, r := range reqs {
		assert.True(t, r.Done())
		assert.NoError(t, r.Err())
	}
}

func TestSubmitQueueFull(t *testing.T) {
	f := plainFile(t)
	c := NewContext(2, nil)

	_, err := c.SubmitWrite(f, 0, make([]byte, PageSize))
	require.NoError(t, err)
	_, err = c.SubmitWrite(f, 1, make([]byte, PageSize))
	require.NoError(t, err)

	_, err = c.SubmitWrite(f, 2, make([]byte, PageSize))
	assert.ErrorIs(t, err, ErrSubmit)

	_, err = c.WaitAll()
	require.NoError(t, err)
	_, err = c.SubmitWrite(f, 2, make([]byte, PageSize))
	assert.NoError(t, err)
	_, err = c.WaitAll()
	require.NoError(t, err)
}

func TestSubmitWriteRejectsPartialPages(t *testing.T) {
	f := plainFile(t)
	c := NewContext(0, nil)
	_, err := c.SubmitWrite(f, 0, make([]byte, 100))
	assert.ErrorIs(t, err, ErrSubmit)
	_, err = c.SubmitWrite(f, 0, nil)
	assert.ErrorIs(t, err, ErrSubmit)
}

func TestReadFailureSurfacesOnWaitAllAndHandle(t *testing.T) {
	f := plainFile(t)
	c := NewContext(0, nil)

	// Reading far past EOF fails the request, not the submit.
	req, err := c.SubmitRead(f, 100, 1)
	require.NoError(t, err)
	_, err = c.WaitAll()
	assert.ErrorIs(t, err, ErrComplete)
	assert.True(t, req.Done())
	assert.ErrorIs(t, req.Err(), ErrComplete)
}

func TestAlignedBuffer(t *testing.T) {
	buf := AlignedBuffer(2)
	assert.Len(t, buf, 2*PageSize)
}
