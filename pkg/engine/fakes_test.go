package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/indigoops/indigo/pkg/blueprint"
)

func scenarioBlueprint() *blueprint.Blueprint {
	return &blueprint.Blueprint{
		SchemaVersion: "1.0",
		DataModel: blueprint.DataModel{
			CustomFields: []blueprint.CustomField{
				{Name: "Lead Score", DataType: "NUMERICAL", Key: "lead_score"},
				{Name: "Insurance Provider", DataType: "TEXT", Key: "insurance_provider"},
			},
			Tags: []string{"new-patient"},
		},
		Pipelines: []blueprint.Pipeline{
			{Name: "Patient Intake", Stages: []string{"New", "Booked", "Seen"}},
		},
	}
}

// fakeClient returns 201 with sequential ids unless told otherwise.
type fakeClient struct {
	mu       sync.Mutex
	requests []ProvisionRequest

	// statusByCall overrides the status code of the n-th call (1-based).
	statusByCall map[int]int
	// errByCall makes the n-th call fail without a response.
	errByCall map[int]error
	// omitID drops the resource id from successful responses.
	omitID bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		statusByCall: make(map[int]int),
		errByCall:    make(map[int]error),
	}
}

func (c *fakeClient) Create(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)
	n := len(c.requests)

	if err, ok := c.errByCall[n]; ok {
		return nil, err
	}

	code := http.StatusCreated
	if override, ok := c.statusByCall[n]; ok {
		code = override
	}

	resp := &ProvisionResponse{StatusCode: code}
	if code < 300 && !c.omitID {
		resp.ResourceID = fmt.Sprintf("res-%d", n)
	} else if code >= 300 {
		resp.Body = []byte(`{"message":"boom"}`)
	}
	return resp, nil
}

func (c *fakeClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// fakeLimiter counts permits and can run a hook before granting one.
type fakeLimiter struct {
	mu       sync.Mutex
	acquired int
	before   func(n int) error
}

func (l *fakeLimiter) Acquire(ctx context.Context, tenantID string) error {
	l.mu.Lock()
	l.acquired++
	n := l.acquired
	hook := l.before
	l.mu.Unlock()

	if hook != nil {
		if err := hook(n); err != nil {
			return err
		}
	}
	return ctx.Err()
}

type memStatusStore struct {
	mu      sync.Mutex
	records map[string]*BuildStatus
	saves   []*BuildStatus
	saveErr error
}

func newMemStatusStore() *memStatusStore {
	return &memStatusStore{records: make(map[string]*BuildStatus)}
}

func (s *memStatusStore) SaveBuildStatus(ctx context.Context, status *BuildStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records[status.TenantID] = status.Clone()
	s.saves = append(s.saves, status.Clone())
	return nil
}

func (s *memStatusStore) GetBuildStatus(ctx context.Context, locationID string) (*BuildStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.records[locationID]
	if !ok {
		return nil, NewNotFoundError("build status", locationID)
	}
	return status.Clone(), nil
}

type memCredentialStore struct {
	creds map[string]*Credentials
}

func newMemCredentialStore(locations ...string) *memCredentialStore {
	s := &memCredentialStore{creds: make(map[string]*Credentials)}
	for _, loc := range locations {
		s.creds[loc] = &Credentials{
			AccessToken: "token-" + loc,
			LocationID:  loc,
			ExpiresAt:   fixedNow().Add(time.Hour),
			Scopes:      []string{"locations/customFields.write"},
		}
	}
	return s
}

func (s *memCredentialStore) GetCredentials(ctx context.Context, locationID string) (*Credentials, error) {
	creds, ok := s.creds[locationID]
	if !ok {
		return nil, NewNotFoundError("credentials", locationID)
	}
	return creds, nil
}

type recordingActivity struct {
	mu    sync.Mutex
	lines []string
}

func (a *recordingActivity) PushLog(message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines = append(a.lines, message)
}

type denyGate struct {
	err error
}

func (g denyGate) CheckPlan(ctx context.Context, plan *BuildPlan) error {
	return g.err
}

type countingObserver struct {
	mu       sync.Mutex
	started  int
	finished map[string]int
	steps    map[string]int
	calls    int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{finished: make(map[string]int), steps: make(map[string]int)}
}

func (o *countingObserver) RecordBuildStarted(int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) RecordBuildFinished(state string, _ float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished[state]++
}

func (o *countingObserver) RecordStep(_ string, outcome string, _ float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps[outcome]++
}

func (o *countingObserver) RecordProvisioningCall(string, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
}

func fixedNow() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}
