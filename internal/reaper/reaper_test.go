package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/p-arndt/sessionbox/internal/metrics"
	"github.com/p-arndt/sessionbox/internal/provision"
	"github.com/p-arndt/sessionbox/internal/store"
	"github.com/p-arndt/sessionbox/internal/testutil"
)

func containerEnv(id, dir string) *provision.Environment {
	return &provision.Environment{
		SessionID:  id,
		StagingDir: dir,
		Handle: provision.Handle{
			Kind:          provision.KindContainer,
			ContainerID:   "cid-" + id,
			ContainerName: provision.ContainerName(id),
		},
	}
}

func newFs(t *testing.T, dirs ...string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, d := range dirs {
		require.NoError(t, fs.MkdirAll(d, 0o755))
		require.NoError(t, afero.WriteFile(fs, d+"/script.py", []byte("print(1)"), 0o644))
	}
	return fs
}

func exists(t *testing.T, fs afero.Fs, path string) bool {
	t.Helper()
	ok, err := afero.Exists(fs, path)
	require.NoError(t, err)
	return ok
}

func TestCleanup_Known(t *testing.T) {
	env := containerEnv("s1", "/staging/sessionbox-s1-1")
	fs := newFs(t, env.StagingDir)

	reg := new(MockRegistry)
	reg.On("Remove", "s1").Return(env, true)
	prov := &MockProvisioner{kind: provision.KindContainer}
	prov.On("Destroy", mock.Anything, env).Return(nil)
	st := new(MockStore)
	st.On("DeleteSession", "s1").Return(nil)

	r := New(reg, prov, st, fs, Options{}, metrics.New(), zaptest.NewLogger(t))
	r.Cleanup(context.Background(), "s1")

	assert.False(t, exists(t, fs, env.StagingDir))
	prov.AssertExpectations(t)
	st.AssertExpectations(t)
}

func TestCleanup_Unknown(t *testing.T) {
	reg := new(MockRegistry)
	reg.On("Remove", "ghost").Return(nil, false)
	prov := &MockProvisioner{kind: provision.KindContainer}

	r := New(reg, prov, nil, afero.NewMemMapFs(), Options{}, nil, zaptest.NewLogger(t))
	r.Cleanup(context.Background(), "ghost")

	prov.AssertNotCalled(t, "Destroy", mock.Anything, mock.Anything)
}

func TestCleanup_DestroyFailureStillRemovesEverything(t *testing.T) {
	env := containerEnv("s1", "/staging/sessionbox-s1-1")
	fs := newFs(t, env.StagingDir)

	reg := new(MockRegistry)
	reg.On("Remove", "s1").Return(env, true)
	prov := &MockProvisioner{kind: provision.KindContainer}
	prov.On("Destroy", mock.Anything, env).Return(errors.New("engine gone"))
	st := new(MockStore)
	st.On("DeleteSession", "s1").Return(nil)

	r := New(reg, prov, st, fs, Options{}, nil, zaptest.NewLogger(t))
	r.Cleanup(context.Background(), "s1")

	assert.False(t, exists(t, fs, env.StagingDir))
	st.AssertExpectations(t)
}

func TestCleanup_LedgerFailureIsLogged(t *testing.T) {
	env := containerEnv("s1", "/staging/sessionbox-s1-1")
	reg := new(MockRegistry)
	reg.On("Remove", "s1").Return(env, true)
	prov := &MockProvisioner{kind: provision.KindContainer}
	prov.On("Destroy", mock.Anything, env).Return(nil)
	st := new(MockStore)
	st.On("DeleteSession", "s1").Return(errors.New("disk full"))

	r := New(reg, prov, st, newFs(t, env.StagingDir), Options{}, nil, zaptest.NewLogger(t))
	assert.NotPanics(t, func() { r.Cleanup(context.Background(), "s1") })
}

// fakeRegistry is a real map so CleanupAll can be checked end to end.
type fakeRegistry struct {
	mu   sync.Mutex
	envs map[string]*provision.Environment
}

func (f *fakeRegistry) Get(id string) (*provision.Environment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	env, ok := f.envs[id]
	return env, ok
}

func (f *fakeRegistry) Remove(id string) (*provision.Environment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	env, ok := f.envs[id]
	delete(f.envs, id)
	return env, ok
}

func (f *fakeRegistry) IDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.envs))
	for id := range f.envs {
		ids = append(ids, id)
	}
	return ids
}

func TestCleanupAll(t *testing.T) {
	reg := &fakeRegistry{envs: map[string]*provision.Environment{}}
	var dirs []string
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		env := containerEnv(id, "/staging/sessionbox-"+id+"-1")
		reg.envs[id] = env
		dirs = append(dirs, env.StagingDir)
	}
	fs := newFs(t, dirs...)

	prov := &MockProvisioner{kind: provision.KindContainer}
	prov.On("Destroy", mock.Anything, mock.Anything).Return(nil)

	r := New(reg, prov, nil, fs, Options{Concurrency: 2}, nil, zaptest.NewLogger(t))
	r.CleanupAll(context.Background())

	assert.Empty(t, reg.IDs())
	for _, d := range dirs {
		assert.False(t, exists(t, fs, d), d)
	}
	prov.AssertNumberOfCalls(t, "Destroy", 5)
}

func TestCleanupAll_Empty(t *testing.T) {
	reg := &fakeRegistry{envs: map[string]*provision.Environment{}}
	r := New(reg, &MockProvisioner{}, nil, afero.NewMemMapFs(), Options{}, nil, zaptest.NewLogger(t))
	assert.NotPanics(t, func() { r.CleanupAll(context.Background()) })
}

func TestSweep_LedgerRows(t *testing.T) {
	fs := newFs(t, "/staging/sessionbox-old-1", "/staging/sessionbox-live-1")
	live := containerEnv("live", "/staging/sessionbox-live-1")
	reg := &fakeRegistry{envs: map[string]*provision.Environment{"live": live}}

	st := new(MockStore)
	st.On("ListSessions").Return([]*store.Session{
		{ID: "old", Kind: "container", StagingDir: "/staging/sessionbox-old-1", ContainerID: "cid-old"},
		{ID: "live", Kind: "container", StagingDir: "/staging/sessionbox-live-1", ContainerID: "cid-live"},
	}, nil)
	st.On("DeleteSession", "old").Return(nil)

	prov := &MockProvisioner{kind: provision.KindContainer}
	prov.On("Destroy", mock.Anything, mock.MatchedBy(func(env *provision.Environment) bool {
		return env.SessionID == "old" && env.Handle.ContainerID == "cid-old"
	})).Return(nil)

	r := New(reg, prov, st, fs, Options{StagingRoot: "/staging"}, nil, zaptest.NewLogger(t))
	report := r.Sweep(context.Background())

	assert.Equal(t, 1, report.LedgerRows)
	assert.False(t, exists(t, fs, "/staging/sessionbox-old-1"))
	assert.True(t, exists(t, fs, "/staging/sessionbox-live-1"))
	st.AssertNotCalled(t, "DeleteSession", "live")
	prov.AssertExpectations(t)
}

func TestSweep_KindMismatchSkipsDestroy(t *testing.T) {
	fs := newFs(t, "/staging/sessionbox-v-1")
	reg := &fakeRegistry{envs: map[string]*provision.Environment{}}

	st := new(MockStore)
	st.On("ListSessions").Return([]*store.Session{
		{ID: "v", Kind: "venv", StagingDir: "/staging/sessionbox-v-1", InterpreterRoot: "/staging/sessionbox-v-1/venv"},
	}, nil)
	st.On("DeleteSession", "v").Return(nil)
	prov := &MockProvisioner{kind: provision.KindContainer}

	r := New(reg, prov, st, fs, Options{}, nil, zaptest.NewLogger(t))
	report := r.Sweep(context.Background())

	assert.Equal(t, 1, report.LedgerRows)
	assert.False(t, exists(t, fs, "/staging/sessionbox-v-1"))
	prov.AssertNotCalled(t, "Destroy", mock.Anything, mock.Anything)
}

func TestSweep_LabelledContainers(t *testing.T) {
	reg := &fakeRegistry{envs: map[string]*provision.Environment{
		"live": containerEnv("live", ""),
	}}
	prov := &MockContainerProvisioner{MockProvisioner{kind: provision.KindContainer}}
	prov.On("ListManaged", mock.Anything).Return([]provision.Environment{
		*containerEnv("orphan", ""),
		*containerEnv("live", ""),
		*containerEnv("broken", ""),
	}, nil)
	prov.On("Destroy", mock.Anything, mock.MatchedBy(func(env *provision.Environment) bool {
		return env.SessionID == "orphan"
	})).Return(nil)
	prov.On("Destroy", mock.Anything, mock.MatchedBy(func(env *provision.Environment) bool {
		return env.SessionID == "broken"
	})).Return(errors.New("permission denied"))

	r := New(reg, prov, nil, afero.NewMemMapFs(), Options{}, nil, zaptest.NewLogger(t))
	report := r.Sweep(context.Background())

	assert.Equal(t, 1, report.Containers)
	prov.AssertNumberOfCalls(t, "Destroy", 2)
}

func TestSweep_StagingRoot(t *testing.T) {
	fs := newFs(t,
		"/staging/sessionbox-a-1",
		"/staging/sessionbox-live-2",
		"/staging/unrelated",
	)
	require.NoError(t, afero.WriteFile(fs, "/staging/sessionbox-file", []byte("x"), 0o644))
	reg := &fakeRegistry{envs: map[string]*provision.Environment{
		"live": containerEnv("live", "/staging/sessionbox-live-2"),
	}}

	r := New(reg, &MockProvisioner{kind: provision.KindVenv}, nil, fs, Options{StagingRoot: "/staging"}, nil, zaptest.NewLogger(t))
	report := r.Sweep(context.Background())

	assert.Equal(t, 1, report.StagingDirs)
	assert.False(t, exists(t, fs, "/staging/sessionbox-a-1"))
	assert.True(t, exists(t, fs, "/staging/sessionbox-live-2"))
	assert.True(t, exists(t, fs, "/staging/unrelated"))
	assert.True(t, exists(t, fs, "/staging/sessionbox-file"))
}

func TestSweep_MissingStagingRoot(t *testing.T) {
	reg := &fakeRegistry{envs: map[string]*provision.Environment{}}
	r := New(reg, &MockProvisioner{kind: provision.KindVenv}, nil, afero.NewMemMapFs(), Options{StagingRoot: "/nope"}, nil, zaptest.NewLogger(t))

	assert.Equal(t, SweepReport{}, r.Sweep(context.Background()))
}

func TestEnvironmentFromRow(t *testing.T) {
	row := testutil.TestSessionRow("abc")

	env := environmentFromRow(row)

	assert.Equal(t, "abc", env.SessionID)
	assert.Equal(t, row.StagingDir, env.StagingDir)
	assert.Equal(t, provision.KindContainer, env.Handle.Kind)
	assert.Equal(t, row.ContainerID, env.Handle.ContainerID)
	assert.Equal(t, "sessionbox-abc", env.Handle.ContainerName)
	assert.Equal(t, row.CreatedAt, env.CreatedAt)
}
