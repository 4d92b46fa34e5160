// Package cache keeps parsed files in memory until they change on disk.
package cache

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type loadFunc[T any] func(path string) (T, error)

type entry[T any] struct {
	mod  time.Time
	size int64
	obj  T
}

// Files caches the result of a load function per file. An entry is
// reloaded when the file's size or modification time differ.
type Files[T any] struct {
	sync.Mutex
	objects map[string]entry[T]
	load    loadFunc[T]
}

func NewFiles[T any](load func(path string) (T, error)) *Files[T] {
	return &Files[T]{objects: make(map[string]entry[T]), load: load}
}

func (c *Files[T]) Load(path string) (T, error) {
	var zero T
	key, err := filepath.Abs(path)
	if err != nil {
		return zero, err
	}
	fi, err := os.Stat(key)
	if err != nil {
		return zero, err
	}

	c.Lock()
	e, ok := c.objects[key]
	c.Unlock()
	if ok && e.mod.Equal(fi.ModTime()) && e.size == fi.Size() {
		log.Debug().Str("key", key).Msg("getting obj from cache")
		return e.obj, nil
	}

	log.Debug().Str("key", key).Msg("loading into cache")
	obj, err := c.load(key)
	if err != nil {
		return zero, err
	}
	c.Lock()
	c.objects[key] = entry[T]{mod: fi.ModTime(), size: fi.Size(), obj: obj}
	c.Unlock()
	return obj, nil
}

func (c *Files[T]) Forget(path string) {
	key, err := filepath.Abs(path)
	if err != nil {
		return
	}
	c.Lock()
	defer c.Unlock()
	delete(c.objects, key)
}

func (c *Files[T]) Len() int {
	c.Lock()
	defer c.Unlock()
	return len(c.objects)
}
