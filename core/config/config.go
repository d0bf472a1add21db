package config

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	dotenvOnce sync.Once
	cache      sync.Map // reflect.Type -> *entry
)

type entry struct {
	once sync.Once
	val  any
	err  error
}

// Load populates cfg from environment variables. Values for each type T are
// parsed once and cached; later calls copy the cached value into cfg.
// A .env file in the working directory is loaded on first use when present.
func Load[T any](cfg *T) error {
	if cfg == nil {
		return ErrNilConfig
	}

	dotenvOnce.Do(func() {
		// Missing .env files are normal outside local development.
		_ = godotenv.Load()
	})

	key := reflect.TypeFor[T]()
	e, _ := cache.LoadOrStore(key, &entry{})
	ent := e.(*entry)

	ent.once.Do(func() {
		var v T
		if err := env.Parse(&v); err != nil {
			ent.err = fmt.Errorf("%w: %s: %w", ErrParse, key, err)
			return
		}
		ent.val = v
	})

	if ent.err != nil {
		return ent.err
	}
	*cfg = ent.val.(T)
	return nil
}

// MustLoad is like Load but panics on failure.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}

// Parse populates cfg from environment variables without caching.
// Useful for tests and for configs built from a custom prefix.
func Parse[T any](cfg *T, opts ...env.Options) error {
	if cfg == nil {
		return ErrNilConfig
	}
	var o env.Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if err := env.ParseWithOptions(cfg, o); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrParse, reflect.TypeFor[T](), err)
	}
	return nil
}
