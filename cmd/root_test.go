package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetinfo/portal/internal/config"
)

type fakeApp struct {
	called []string
	email  string
	closed bool
	err    error
}

func (f *fakeApp) Serve(context.Context) error    { f.called = append(f.called, "serve"); return f.err }
func (f *fakeApp) Work(context.Context) error     { f.called = append(f.called, "work"); return f.err }
func (f *fakeApp) Schedule(context.Context) error { f.called = append(f.called, "schedule"); return f.err }
func (f *fakeApp) Migrate(context.Context) error  { f.called = append(f.called, "migrate"); return f.err }
func (f *fakeApp) IssueToken(_ context.Context, email string) (string, time.Time, error) {
	f.email = email
	return "tok-123", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), f.err
}

func (f *fakeApp) ProcessSubscriptions(context.Context) error {
	f.called = append(f.called, "process")
	return f.err
}
func (f *fakeApp) Close() { f.closed = true }

// withFakes swaps the config loader and app factory; tests using it must not
// run in parallel.
func withFakes(t *testing.T, app *fakeApp) {
	t.Helper()
	origLoad, origNew := loadConfig, newApp
	loadConfig = func(string) (config.Config, error) {
		return config.Config{Logging: config.LoggingConfig{Level: "error"}}, nil
	}
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		return app, nil
	}
	t.Cleanup(func() { loadConfig, newApp = origLoad, origNew })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSubcommandsDispatchToApp(t *testing.T) {
	cases := map[string]string{
		"serve":                 "serve",
		"worker":                "work",
		"scheduler":             "schedule",
		"migrate":               "migrate",
		"process-subscriptions": "process",
	}
	for arg, want := range cases {
		app := &fakeApp{}
		withFakes(t, app)
		_, err := run(t, arg)
		require.NoError(t, err, arg)
		assert.Equal(t, []string{want}, app.called, arg)
		assert.True(t, app.closed, arg)
	}
}

func TestTokenCommand(t *testing.T) {
	app := &fakeApp{}
	withFakes(t, app)

	out, err := run(t, "token", "--email", "Admin@Fleet.test")
	require.NoError(t, err)
	assert.Equal(t, "tok-123\n", out)
	assert.Equal(t, "Admin@Fleet.test", app.email)

	_, err = run(t, "token")
	require.ErrorContains(t, err, "--email is required")
}

func TestCommandErrorsPropagate(t *testing.T) {
	app := &fakeApp{err: errors.New("db down")}
	withFakes(t, app)
	_, err := run(t, "migrate")
	require.ErrorContains(t, err, "db down")
	assert.True(t, app.closed)
}

func TestConfigErrorsStopBeforeBuild(t *testing.T) {
	origLoad, origNew := loadConfig, newApp
	t.Cleanup(func() { loadConfig, newApp = origLoad, origNew })
	built := false
	loadConfig = func(string) (config.Config, error) { return config.Config{}, errors.New("bad yaml") }
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		built = true
		return &fakeApp{}, nil
	}
	_, err := run(t, "serve")
	require.ErrorContains(t, err, "bad yaml")
	assert.False(t, built)
}
