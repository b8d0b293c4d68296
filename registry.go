package harness

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/translator-sri/trapi-acceptor/worker"
)

// RunState is one registry entry: the worker handle of a launched run plus
// the coordinator's cached view of its progress. The entry mutex serializes
// per-run status polling; the registry lock is never held while a run is
// being polled.
type RunState struct {
	mu         sync.Mutex
	runID      string
	command    []string
	handle     *worker.Handle
	timeout    time.Duration
	launchedAt time.Time
	percent    float64
	completed  bool
}

// RunID returns the entry's run identifier.
func (s *RunState) RunID() string {
	return s.runID
}

// Percent returns the last cached completion percentage.
func (s *RunState) Percent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.percent
}

// Completed reports whether the run has been observed complete.
func (s *RunState) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// RunRegistry owns the state of every known test run. Callers hold run
// identifiers only and go through the registry for everything else; there is
// no package-level instance.
type RunRegistry struct {
	log log.Logger

	mu   sync.RWMutex
	runs map[string]*RunState
}

func NewRunRegistry(logger log.Logger) *RunRegistry {
	return &RunRegistry{
		log:  logger,
		runs: make(map[string]*RunState),
	}
}

// Register adds a newly launched run. The identifier must not collide with a
// live entry.
func (r *RunRegistry) Register(state *RunState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[state.runID]; exists {
		return fmt.Errorf("test run %s is already registered", state.runID)
	}
	r.runs[state.runID] = state
	r.log.Debug("Registered test run", "run", state.runID)
	return nil
}

// Get looks up a run entry.
func (r *RunRegistry) Get(runID string) (*RunState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.runs[runID]
	return state, ok
}

// Seed records a run known only from the durable catalog, e.g. after a
// restart, as complete. Idempotent; never downgrades a live entry.
func (r *RunRegistry) Seed(runID string) *RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.runs[runID]; ok {
		return state
	}
	state := &RunState{
		runID:     runID,
		percent:   100,
		completed: true,
	}
	r.runs[runID] = state
	return state
}

// Evict removes a run entry. Unknown identifiers are ignored.
func (r *RunRegistry) Evict(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[runID]; ok {
		delete(r.runs, runID)
		r.log.Debug("Evicted test run", "run", runID)
	}
}

// IDs returns all registered run identifiers, sorted ascending.
func (r *RunRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered runs.
func (r *RunRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}
