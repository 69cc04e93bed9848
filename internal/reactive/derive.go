package reactive

import (
	"context"
	"sync"
)

// Distinct projeta cada valor de src com project e suprime repetições
// consecutivas do valor projetado, por observador.
func Distinct[T any, K comparable](src Observable[T], project func(T) K) Observable[K] {
	return &distinct[T, K]{src: src, project: project}
}

type distinct[T any, K comparable] struct {
	src     Observable[T]
	project func(T) K
}

func (d *distinct[T, K]) Subscribe(fn Observer[K]) func() {
	if fn == nil {
		return func() {}
	}
	var (
		mu   sync.Mutex
		last K
		seen bool
	)
	return d.src.Subscribe(func(value T) {
		key := d.project(value)
		mu.Lock()
		if seen && key == last {
			mu.Unlock()
			return
		}
		last, seen = key, true
		mu.Unlock()
		fn(key)
	})
}

// Watch adapta src para um canal. O canal guarda apenas o valor mais recente
// ainda não lido, então um consumidor lento nunca bloqueia quem publica.
// O canal é fechado quando ctx termina.
func Watch[T any](ctx context.Context, src Observable[T]) <-chan T {
	out := make(chan T, 1)
	var mu sync.Mutex
	closed := false

	unsubscribe := src.Subscribe(func(value T) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- value:
		default:
			// Descarta o valor pendente e mantém o mais novo.
			select {
			case <-out:
			default:
			}
			out <- value
		}
	})

	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out
}
