package danmaku

// Signal is a typed notification. Handlers run synchronously, in
// registration order, on the goroutine that emits.
type Signal[T any] struct {
	handlers []signalHandler[T]
	nextID   int
}

type signalHandler[T any] struct {
	id int
	fn func(T)
}

// Connect registers fn and returns a function that unregisters it.
func (s *Signal[T]) Connect(fn func(T)) (disconnect func()) {
	s.nextID++
	id := s.nextID
	s.handlers = append(s.handlers, signalHandler[T]{id: id, fn: fn})
	return func() {
		for i, h := range s.handlers {
			if h.id == id {
				s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
				return
			}
		}
	}
}

func (s *Signal[T]) emit(v T) {
	if len(s.handlers) == 0 {
		return
	}
	handlers := append([]signalHandler[T](nil), s.handlers...)
	for _, h := range handlers {
		h.fn(v)
	}
}
