package operations

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"image-pipeline/internal/params"
)

type fakeTransform struct {
	name   string
	resets int
	closed bool
}

func (f *fakeTransform) Process(src gocv.Mat, _ params.Values) (gocv.Mat, error) {
	return src.Clone(), nil
}

func (f *fakeTransform) Reset() { f.resets++ }

func (f *fakeTransform) Close() error {
	f.closed = true
	return nil
}

func fakeKind(id string) Kind {
	return Kind{
		ID:     id,
		Name:   id,
		Schema: params.Schema{params.Range("radius", 1, 50, 5)},
	}
}

func countingFactory(name string, created *int) Factory {
	return func() Transform {
		*created++
		return &fakeTransform{name: name}
	}
}

func newTestRegistry() *Registry {
	logger, _ := test.NewNullLogger()
	return NewRegistry(logger)
}

func TestResolveReturnsSingleton(t *testing.T) {
	registry := newTestRegistry()
	created := 0
	registry.Register(fakeKind("blur"), countingFactory("blur", &created))

	assert.Equal(t, 0, created, "registration must not instantiate")

	first, err := registry.Resolve("blur")
	require.NoError(t, err)
	second, err := registry.Resolve("blur")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, created)
}

func TestResolveUnknownOperation(t *testing.T) {
	registry := newTestRegistry()

	_, err := registry.Resolve("does_not_exist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownOperation))

	var unknown *UnknownOperationError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "does_not_exist", unknown.ID)

	_, err = registry.Params("does_not_exist")
	assert.ErrorIs(t, err, ErrUnknownOperation)
	_, err = registry.Schema("does_not_exist")
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestRegisterLastWins(t *testing.T) {
	registry := newTestRegistry()
	var firstCount, secondCount int
	registry.Register(fakeKind("blur"), countingFactory("first", &firstCount))

	old, err := registry.Resolve("blur")
	require.NoError(t, err)

	registry.Register(fakeKind("blur"), countingFactory("second", &secondCount))

	inst, err := registry.Resolve("blur")
	require.NoError(t, err)
	assert.NotSame(t, old, inst)
	assert.Equal(t, "second", inst.Transform().(*fakeTransform).name)
	assert.True(t, old.Transform().(*fakeTransform).closed, "replaced instance is closed")
	assert.Len(t, registry.Kinds(), 1)
}

func TestKindsKeepsRegistrationOrder(t *testing.T) {
	registry := newTestRegistry()
	created := 0
	for _, id := range []string{"c", "a", "b"} {
		registry.Register(fakeKind(id), countingFactory(id, &created))
	}

	var ids []string
	for _, k := range registry.Kinds() {
		ids = append(ids, k.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
	assert.Equal(t, 0, created)
}

func TestParamsDoesNotInstantiate(t *testing.T) {
	registry := newTestRegistry()
	created := 0
	registry.Register(fakeKind("blur"), countingFactory("blur", &created))

	values, err := registry.Params("blur")
	require.NoError(t, err)
	assert.Equal(t, params.Values{"radius": 5.0}, values)
	assert.Equal(t, 0, created)
	assert.Empty(t, registry.instances)

	_, err = registry.SetParams("blur", params.Values{"radius": 7.0})
	require.NoError(t, err)
	values, err = registry.Params("blur")
	require.NoError(t, err)
	assert.Equal(t, 7.0, values["radius"], "live values win over defaults")
	assert.Equal(t, 1, created)
}

func TestSetParamsIsVisibleToLaterResolves(t *testing.T) {
	registry := newTestRegistry()
	created := 0
	registry.Register(fakeKind("blur"), countingFactory("blur", &created))

	updated, err := registry.SetParams("blur", params.Values{"radius": 9.0, "bogus": 1})
	require.NoError(t, err)
	assert.Equal(t, params.Values{"radius": 9.0}, updated)

	current, err := registry.Params("blur")
	require.NoError(t, err)
	assert.Equal(t, params.Values{"radius": 9.0}, current)

	// Callers get copies, never the live map
	current["radius"] = 1.0
	again, err := registry.Params("blur")
	require.NoError(t, err)
	assert.Equal(t, 9.0, again["radius"])
}

func TestConcurrentResolveCreatesOneInstance(t *testing.T) {
	registry := newTestRegistry()
	var mu sync.Mutex
	created := 0
	registry.Register(fakeKind("blur"), func() Transform {
		mu.Lock()
		created++
		mu.Unlock()
		return &fakeTransform{}
	})

	var wg sync.WaitGroup
	instances := make([]*Instance, 16)
	for i := range instances {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := registry.Resolve("blur")
			assert.NoError(t, err)
			instances[i] = inst
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	for _, inst := range instances {
		assert.Same(t, instances[0], inst)
	}
}

func TestForkSharesKindsNotInstances(t *testing.T) {
	registry := newTestRegistry()
	created := 0
	registry.Register(fakeKind("blur"), countingFactory("blur", &created))

	base, err := registry.Resolve("blur")
	require.NoError(t, err)
	_, err = registry.SetParams("blur", params.Values{"radius": 20.0})
	require.NoError(t, err)

	forked := registry.Fork()
	assert.Equal(t, registry.Kinds(), forked.Kinds())

	inst, err := forked.Resolve("blur")
	require.NoError(t, err)
	assert.NotSame(t, base, inst)
	assert.Equal(t, 5.0, inst.Params()["radius"])
}

func TestCloseReleasesInstances(t *testing.T) {
	registry := newTestRegistry()
	created := 0
	registry.Register(fakeKind("blur"), countingFactory("blur", &created))

	inst, err := registry.Resolve("blur")
	require.NoError(t, err)
	require.NoError(t, registry.Close())
	assert.True(t, inst.Transform().(*fakeTransform).closed)

	_, err = registry.Resolve("blur")
	require.NoError(t, err)
	assert.Equal(t, 2, created)
}

// mustSession fetches a session registry and fails the test on error
func mustSession(t *testing.T, sessions *Sessions, id string) *Registry {
	t.Helper()
	reg, err := sessions.Get(id)
	require.NoError(t, err)
	return reg
}

func TestSessionsIsolateInstances(t *testing.T) {
	logger, _ := test.NewNullLogger()
	base := NewRegistry(logger)
	created := 0
	base.Register(fakeKind("blur"), countingFactory("blur", &created))

	sessions := NewSessions(base, time.Minute, 0, logger)
	assert.Same(t, base, mustSession(t, sessions, ""))

	a := mustSession(t, sessions, "a")
	b := mustSession(t, sessions, "b")
	assert.Same(t, a, mustSession(t, sessions, "a"))
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, sessions.Len())

	_, err := a.SetParams("blur", params.Values{"radius": 30.0})
	require.NoError(t, err)
	other, err := b.Params("blur")
	require.NoError(t, err)
	assert.Equal(t, 5.0, other["radius"])
}

func TestSessionsPeekNeverCreates(t *testing.T) {
	logger, _ := test.NewNullLogger()
	base := NewRegistry(logger)
	sessions := NewSessions(base, time.Minute, 0, logger)

	assert.Same(t, base, sessions.Peek("ghost"))
	assert.Equal(t, 0, sessions.Len())

	a := mustSession(t, sessions, "a")
	assert.Same(t, a, sessions.Peek("a"))
	assert.Same(t, base, sessions.Peek(""))
}

func TestSessionsEvictIdle(t *testing.T) {
	logger, _ := test.NewNullLogger()
	base := NewRegistry(logger)
	created := 0
	base.Register(fakeKind("blur"), countingFactory("blur", &created))

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	sessions := NewSessions(base, time.Minute, 0, logger)
	sessions.now = func() time.Time { return now }

	stale, err := mustSession(t, sessions, "stale").Resolve("blur")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	mustSession(t, sessions, "fresh")

	assert.Equal(t, 1, sessions.Evict())
	assert.Equal(t, 1, sessions.Len())

	fake := stale.Transform().(*fakeTransform)
	assert.Equal(t, 1, fake.resets)
	assert.True(t, fake.closed)
}

func TestSessionsEvictDisabled(t *testing.T) {
	sessions := NewSessions(NewRegistry(logrus.New()), 0, 0, nil)
	mustSession(t, sessions, "a")
	assert.Equal(t, 0, sessions.Evict())
	assert.Equal(t, 1, sessions.Len())
}

func TestSessionsLimit(t *testing.T) {
	logger, _ := test.NewNullLogger()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	sessions := NewSessions(NewRegistry(logger), time.Minute, 2, logger)
	sessions.now = func() time.Time { return now }

	mustSession(t, sessions, "a")
	mustSession(t, sessions, "b")

	_, err := sessions.Get("c")
	require.ErrorIs(t, err, ErrTooManySessions)
	assert.Equal(t, 2, sessions.Len())

	// Known sessions and the base registry stay reachable when full
	mustSession(t, sessions, "a")
	mustSession(t, sessions, "")

	// Idle sessions make room
	now = now.Add(2 * time.Minute)
	mustSession(t, sessions, "c")
	assert.Equal(t, 1, sessions.Len())
}

func TestProcessingErrorMessage(t *testing.T) {
	cause := errors.New("boom")
	err := NewProcessingError("blur", 2, cause)

	assert.Equal(t, "step 2 (blur): boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsProcessingError(err))

	rewrapped := NewProcessingError("sharpen", 4, err)
	assert.Equal(t, "step 4 (sharpen): boom", rewrapped.Error())
}
