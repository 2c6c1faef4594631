package platform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/indigoops/indigo/pkg/engine"
)

// SimulatedClient answers provisioning calls without a network. Ids are
// derived from the idempotency key, so repeated calls return the same id with
// 200 instead of 201, like a platform honoring Idempotency-Key.
type SimulatedClient struct {
	mu    sync.Mutex
	seen  map[string]string
	calls []engine.ProvisionRequest
}

// NewSimulatedClient creates an empty simulated platform.
func NewSimulatedClient() *SimulatedClient {
	return &SimulatedClient{seen: make(map[string]string)}
}

// Create records the request and returns a deterministic resource id.
func (s *SimulatedClient) Create(ctx context.Context, req engine.ProvisionRequest) (*engine.ProvisionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, engine.NewTransientError("simulated request cancelled", err).
			WithCode(engine.ErrCodeCancelled)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, req)

	status := http.StatusOK
	id, ok := s.seen[req.IdempotencyKey]
	if !ok {
		id = SimulatedID(req.IdempotencyKey)
		s.seen[req.IdempotencyKey] = id
		status = http.StatusCreated
	}

	body, _ := json.Marshal(map[string]string{"id": id})
	return &engine.ProvisionResponse{StatusCode: status, ResourceID: id, Body: body}, nil
}

// Calls returns a copy of the requests received so far.
func (s *SimulatedClient) Calls() []engine.ProvisionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.ProvisionRequest(nil), s.calls...)
}

// SimulatedID is the id the simulated platform assigns to an idempotency key.
func SimulatedID(idempotencyKey string) string {
	sum := sha256.Sum256([]byte(idempotencyKey))
	return "sim_" + hex.EncodeToString(sum[:])[:16]
}
