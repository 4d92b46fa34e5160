package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestFiles(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "part.txt")
	is.NoErr(os.WriteFile(path, []byte("one"), 0o644))

	loads := 0
	c := NewFiles(func(p string) (string, error) {
		loads++
		b, err := os.ReadFile(p)
		return string(b), err
	})

	v, err := c.Load(path)
	is.NoErr(err)
	is.Equal(v, "one")
	v, err = c.Load(filepath.Join(dir, ".", "part.txt"))
	is.NoErr(err)
	is.Equal(v, "one")
	is.Equal(loads, 1)
	is.Equal(c.Len(), 1)

	is.NoErr(os.WriteFile(path, []byte("second"), 0o644))
	v, err = c.Load(path)
	is.NoErr(err)
	is.Equal(v, "second")
	is.Equal(loads, 2)

	later := time.Now().Add(time.Hour)
	is.NoErr(os.Chtimes(path, later, later))
	_, err = c.Load(path)
	is.NoErr(err)
	is.Equal(loads, 3)

	c.Forget(path)
	is.Equal(c.Len(), 0)

	_, err = c.Load(filepath.Join(dir, "missing.txt"))
	is.True(errors.Is(err, os.ErrNotExist))
}
