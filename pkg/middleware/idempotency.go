package middleware

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	apperrors "courtslots/pkg/errors"
	httputil "courtslots/pkg/http"
)

type IdempotencyStore interface {
	Get(key string) (*CachedResponse, bool)
	// Reserve claims key for an in-flight request. It returns false when
	// the key is cached or already claimed.
	Reserve(key string) bool
	Set(key string, response *CachedResponse)
	Release(key string)
	Stop()
}

type CachedResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	CreatedAt  time.Time
}

type InMemoryIdempotencyStore struct {
	mu       sync.Mutex
	store    map[string]*CachedResponse
	inFlight map[string]struct{}
	ttl      time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewInMemoryIdempotencyStore(ttl time.Duration) *InMemoryIdempotencyStore {
	store := &InMemoryIdempotencyStore{
		store:    make(map[string]*CachedResponse),
		inFlight: make(map[string]struct{}),
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}

	go store.cleanup()

	return store
}

func (s *InMemoryIdempotencyStore) Get(key string) (*CachedResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *InMemoryIdempotencyStore) getLocked(key string) (*CachedResponse, bool) {
	response, exists := s.store[key]
	if !exists {
		return nil, false
	}
	if time.Since(response.CreatedAt) > s.ttl {
		delete(s.store, key)
		return nil, false
	}
	return response, true
}

func (s *InMemoryIdempotencyStore) Reserve(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, cached := s.getLocked(key); cached {
		return false
	}
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *InMemoryIdempotencyStore) Set(key string, response *CachedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	response.CreatedAt = time.Now()
	s.store[key] = response
	delete(s.inFlight, key)
}

func (s *InMemoryIdempotencyStore) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

func (s *InMemoryIdempotencyStore) cleanup() {
	interval := s.ttl
	if interval > time.Hour {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			for key, response := range s.store {
				if time.Since(response.CreatedAt) > s.ttl {
					delete(s.store, key)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

func (s *InMemoryIdempotencyStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (rc *responseCapture) WriteHeader(statusCode int) {
	rc.statusCode = statusCode
	rc.ResponseWriter.WriteHeader(statusCode)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// Idempotency replays the first successful response for a repeated
// Idempotency-Key on POST requests. Keys are scoped to the calling user. A
// repeat that arrives while the first request is still running gets 409.
func Idempotency(store IdempotencyStore, headerName string) func(http.Handler) http.Handler {
	if headerName == "" {
		headerName = httputil.HeaderIdempotency
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idempotencyKey := r.Header.Get(headerName)
			if idempotencyKey == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(httputil.HeaderUserID) + "|" + r.URL.Path + "|" + idempotencyKey

			if cached, found := store.Get(key); found {
				replayCachedResponse(w, cached)
				return
			}
			if !store.Reserve(key) {
				if cached, found := store.Get(key); found {
					replayCachedResponse(w, cached)
					return
				}
				_ = httputil.WriteError(w, apperrors.Conflict("A request with this Idempotency-Key is already in progress"))
				return
			}

			stored := false
			defer func() {
				if !stored {
					store.Release(key)
				}
			}()

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK, body: &bytes.Buffer{}}
			next.ServeHTTP(capture, r)

			if capture.statusCode >= 200 && capture.statusCode < 300 {
				store.Set(key, &CachedResponse{
					StatusCode: capture.statusCode,
					Headers:    w.Header().Clone(),
					Body:       capture.body.Bytes(),
				})
				stored = true
			}
		})
	}
}

func replayCachedResponse(w http.ResponseWriter, cached *CachedResponse) {
	for key, values := range cached.Headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}
