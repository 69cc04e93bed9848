// Package reactive implementa um broadcast compartilhado com replay do último
// valor, usado para distribuir o estado de sessão a vários observadores.
package reactive

import (
	"context"
	"log"
	"slices"
	"sync"
)

// Observer recebe cada valor publicado.
type Observer[T any] func(T)

// Observable é qualquer fonte que aceita observadores.
type Observable[T any] interface {
	Subscribe(fn Observer[T]) (unsubscribe func())
}

// Loader produz o valor inicial de um Subject lazy. ok=false significa que não
// há valor a publicar.
type Loader[T any] func(ctx context.Context) (value T, ok bool, err error)

// Subject é um broadcast com replay-1: novos observadores recebem o último
// valor imediatamente e depois todas as publicações seguintes, em ordem.
//
// Observadores são chamados de forma síncrona dentro de Publish e não podem
// publicar no mesmo Subject a partir do callback.
type Subject[T any] struct {
	emitMu sync.Mutex // serializa entregas

	mu        sync.Mutex
	value     T
	has       bool
	published uint64
	observers map[uint64]Observer[T]
	nextID    uint64

	loadCtx   context.Context
	loader    Loader[T]
	startOnce sync.Once
	loaded    chan struct{}
}

// NewSubject cria um Subject que já possui um valor inicial.
func NewSubject[T any](initial T) *Subject[T] {
	loaded := make(chan struct{})
	close(loaded)
	return &Subject[T]{
		value:     initial,
		has:       true,
		observers: make(map[uint64]Observer[T]),
		loaded:    loaded,
	}
}

// NewLazySubject cria um Subject cujo valor inicial vem de loader. O loader roda
// uma única vez, em background, quando o primeiro observador se inscreve.
func NewLazySubject[T any](ctx context.Context, loader Loader[T]) *Subject[T] {
	return &Subject[T]{
		observers: make(map[uint64]Observer[T]),
		loadCtx:   ctx,
		loader:    loader,
		loaded:    make(chan struct{}),
	}
}

// Subscribe registra fn e entrega o valor em cache, se existir.
func (s *Subject[T]) Subscribe(fn Observer[T]) func() {
	if fn == nil {
		return func() {}
	}

	s.emitMu.Lock()
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	value, has := s.value, s.has
	s.mu.Unlock()
	if has {
		fn(value)
	}
	s.emitMu.Unlock()

	s.start()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// Publish define o valor atual e o entrega a todos os observadores.
func (s *Subject[T]) Publish(value T) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	s.value = value
	s.has = true
	s.published++
	observers := s.snapshotLocked()
	s.mu.Unlock()

	for _, fn := range observers {
		fn(value)
	}
}

// Latest retorna o último valor conhecido.
func (s *Subject[T]) Latest() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.has
}

// Loaded fecha quando o loader terminou (imediatamente para NewSubject).
func (s *Subject[T]) Loaded() <-chan struct{} {
	return s.loaded
}

func (s *Subject[T]) start() {
	if s.loader == nil {
		return
	}
	s.startOnce.Do(func() {
		go s.runLoader()
	})
}

func (s *Subject[T]) runLoader() {
	defer close(s.loaded)

	ctx := s.loadCtx
	if ctx == nil {
		ctx = context.Background()
	}
	value, ok, err := s.loader(ctx)
	if err != nil {
		log.Printf("[REACTIVE] Initial load failed: %v", err)
		return
	}
	if !ok {
		return
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	// Uma publicação explícita vence o valor carregado.
	if s.published > 0 {
		s.mu.Unlock()
		return
	}
	s.value = value
	s.has = true
	observers := s.snapshotLocked()
	s.mu.Unlock()

	for _, fn := range observers {
		fn(value)
	}
}

func (s *Subject[T]) snapshotLocked() []Observer[T] {
	ids := make([]uint64, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	// Ordem de inscrição.
	slices.Sort(ids)
	out := make([]Observer[T], 0, len(ids))
	for _, id := range ids {
		out = append(out, s.observers[id])
	}
	return out
}
