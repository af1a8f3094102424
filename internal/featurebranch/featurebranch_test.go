package featurebranch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"octobranch/internal/config"
	"octobranch/internal/octopus"
	"octobranch/internal/octopus/octopustest"
	"octobranch/internal/retry"
	"octobranch/pkg/logging"
)

func init() {
	logging.Init(logging.LevelDebug, logging.FormatText, io.Discard)
}

const apiKey = "API-TEST"

type fixture struct {
	srv     *octopustest.Server
	space   string
	project string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	srv := octopustest.NewServer(apiKey)
	t.Cleanup(srv.Close)
	space := srv.AddSpace("Default")
	project := srv.AddProject(space, "Web")
	srv.SetDeploymentProcess(space, project, octopus.DeploymentProcess{Steps: []octopus.DeploymentStep{
		{Name: "Deploy Web", Actions: []octopus.DeploymentAction{
			{Name: "Deploy Web", Packages: []octopus.PackageReference{{Name: "web"}}},
		}},
	}})
	return fixture{srv: srv, space: space, project: project}
}

func (f fixture) run(action config.Action, branch string) config.Run {
	return config.Run{
		Action:    action,
		ServerURL: f.srv.URL,
		APIKey:    apiKey,
		Space:     "Default",
		Project:   "Web",
		Branch:    branch,
	}
}

func fastPolicy() retry.Policy {
	p := retry.NewPolicy(config.RetrySettings{})
	p.Backoff = time.Millisecond
	return p
}

func noSleep(context.Context, time.Duration) error { return nil }

func (f fixture) orchestrator(run config.Run) *Orchestrator {
	client := octopus.NewClient(f.srv.URL, apiKey)
	return New(run, config.GetDefaultSettings(), client, WithPolicy(fastPolicy()), WithSleeper(noSleep))
}

func TestCreate_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	run := f.run(config.ActionCreate, "feature/foo")

	require.NoError(t, f.orchestrator(run).Run(context.Background()))
	require.NoError(t, f.orchestrator(run).Run(context.Background()))

	assert.Len(t, f.srv.Items(f.space, "environments"), 1)
	assert.Len(t, f.srv.Items(f.space, "lifecycles"), 1)
	channels := f.srv.Items(f.space, "channels")
	require.Len(t, channels, 1)
	assert.Equal(t, "feature/foo", channels[0]["Name"])
	assert.Equal(t, f.project, channels[0]["ProjectId"])
}

func TestCreate_AssignsTargetsByRole(t *testing.T) {
	f := newFixture(t)
	db1 := f.srv.AddMachine(f.space, "db-01", []string{"db"}, []string{"Environments-100"}, nil)
	db2 := f.srv.AddMachine(f.space, "db-02", []string{"db"}, nil, nil)
	web := f.srv.AddMachine(f.space, "web-01", []string{"web"}, nil, nil)

	run := f.run(config.ActionCreate, "feature/foo")
	run.TargetRole = "db"
	require.NoError(t, f.orchestrator(run).Run(context.Background()))
	require.NoError(t, f.orchestrator(run).Run(context.Background()))

	envs := f.srv.Items(f.space, "environments")
	require.Len(t, envs, 1)
	envID := envs[0]["Id"].(string)

	m1, _ := f.srv.Machine(f.space, db1)
	m2, _ := f.srv.Machine(f.space, db2)
	m3, _ := f.srv.Machine(f.space, web)
	assert.Equal(t, []string{"Environments-100", envID}, m1.EnvironmentIDs)
	assert.Equal(t, []string{envID}, m2.EnvironmentIDs)
	assert.Empty(t, m3.EnvironmentIDs)
}

func TestCreate_MissingProjectIsNotRetried(t *testing.T) {
	f := newFixture(t)
	run := f.run(config.ActionCreate, "feature/foo")
	run.Project = "Nope"

	err := f.orchestrator(run).Run(context.Background())
	require.ErrorIs(t, err, ErrMissingInput)
	assert.Equal(t, 1, f.srv.CountRequests(http.MethodGet, f.space+"/projects"))
	assert.Empty(t, f.srv.Items(f.space, "environments"))
}

func TestCreate_MissingSpace(t *testing.T) {
	f := newFixture(t)
	run := f.run(config.ActionCreate, "feature/foo")
	run.Space = "Elsewhere"

	err := f.orchestrator(run).Run(context.Background())
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestCreate_RetriesTransientFailure(t *testing.T) {
	f := newFixture(t)
	failed := false
	f.srv.FailWith(func(method, path string) int {
		if method == http.MethodPost && strings.HasSuffix(path, "/lifecycles") && !failed {
			failed = true
			return http.StatusServiceUnavailable
		}
		return 0
	})

	require.NoError(t, f.orchestrator(f.run(config.ActionCreate, "feature/foo")).Run(context.Background()))
	assert.True(t, failed)
	assert.Len(t, f.srv.Items(f.space, "environments"), 1, "the retry finds the environment of the first attempt")
	assert.Len(t, f.srv.Items(f.space, "lifecycles"), 1)
	assert.Len(t, f.srv.Items(f.space, "channels"), 1)
}

func TestCreate_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.srv.FailWith(func(method, path string) int {
		if method == http.MethodPost {
			return http.StatusInternalServerError
		}
		return 0
	})

	err := f.orchestrator(f.run(config.ActionCreate, "feature/foo")).Run(context.Background())
	require.Error(t, err)
	assert.True(t, octopus.IsCommunicationError(err))
	assert.Equal(t, 3, f.srv.CountRequests(http.MethodPost, f.space+"/environments"))
}

func TestProtectedBranch_MakesNoCalls(t *testing.T) {
	for _, action := range []config.Action{config.ActionCreate, config.ActionDelete} {
		t.Run(string(action), func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.orchestrator(f.run(action, "main")).Run(context.Background()))
			assert.Empty(t, f.srv.Requests())
		})
	}
}

func TestRun_UnknownAction(t *testing.T) {
	f := newFixture(t)
	err := f.orchestrator(f.run("promote", "feature/foo")).Run(context.Background())
	assert.ErrorIs(t, err, ErrUnknownAction)
	assert.Empty(t, f.srv.Requests())
}

func TestDelete_RemovesEverythingInOrder(t *testing.T) {
	f := newFixture(t)
	shared := f.srv.AddMachine(f.space, "db-01", []string{"db"}, []string{"Environments-100"}, nil)
	solo := f.srv.AddMachine(f.space, "db-02", []string{"db"}, nil, nil)

	create := f.run(config.ActionCreate, "feature/foo")
	create.TargetRole = "db"
	require.NoError(t, f.orchestrator(create).Run(context.Background()))

	channelID := f.srv.Items(f.space, "channels")[0]["Id"].(string)
	f.srv.AddRelease(f.space, f.project, channelID, "feature/foo-0.0.1")
	f.srv.AddRelease(f.space, f.project, channelID, "feature/foo-0.0.2")
	other := f.srv.AddChannel(f.space, f.project, "Default")
	kept := f.srv.AddRelease(f.space, f.project, other, "1.0.0")
	f.srv.AddDeployment(f.space, f.project, channelID, true)
	f.srv.ResetRequests()

	require.NoError(t, f.orchestrator(f.run(config.ActionDelete, "feature/foo")).Run(context.Background()))

	var deletes []string
	for _, r := range f.srv.Requests() {
		if r.Method == http.MethodDelete {
			deletes = append(deletes, strings.Split(strings.TrimPrefix(r.Path, f.space+"/"), "/")[0])
		}
	}
	assert.Equal(t, []string{"releases", "releases", "projects", "lifecycles", "machines", "environments"}, deletes)

	releases := f.srv.Items(f.space, "releases")
	require.Len(t, releases, 1)
	assert.Equal(t, kept, releases[0]["Id"])
	assert.Len(t, f.srv.Items(f.space, "channels"), 1)
	assert.Empty(t, f.srv.Items(f.space, "lifecycles"))
	assert.Empty(t, f.srv.Items(f.space, "environments"))

	m, ok := f.srv.Machine(f.space, shared)
	require.True(t, ok)
	assert.Equal(t, []string{"Environments-100"}, m.EnvironmentIDs)
	_, ok = f.srv.Machine(f.space, solo)
	assert.False(t, ok, "a target left without environments is deleted")
}

func TestDelete_WaitsForRunningTasks(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orchestrator(f.run(config.ActionCreate, "feature/foo")).Run(context.Background()))
	channelID := f.srv.Items(f.space, "channels")[0]["Id"].(string)
	f.srv.AddDeployment(f.space, f.project, channelID, false)
	f.srv.OnCancel(func(task octopustest.Object) { task["IsCompleted"] = true })

	sleeps := 0
	client := octopus.NewClient(f.srv.URL, apiKey)
	orch := New(f.run(config.ActionDelete, "feature/foo"), config.GetDefaultSettings(), client,
		WithPolicy(fastPolicy()),
		WithSleeper(func(context.Context, time.Duration) error {
			sleeps++
			return nil
		}))

	require.NoError(t, orch.Run(context.Background()))
	assert.Equal(t, 1, sleeps)
	assert.Empty(t, f.srv.Items(f.space, "channels"))
}

func TestDelete_NothingToDelete(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orchestrator(f.run(config.ActionDelete, "feature/gone")).Run(context.Background()))
	assert.Zero(t, f.srv.CountRequests(http.MethodDelete, ""))
	assert.Zero(t, f.srv.CountRequests(http.MethodPut, ""))
}

func TestDelete_WithTargetNameLeavesNoTargetOnDeletedEnvironment(t *testing.T) {
	f := newFixture(t)
	a := f.srv.AddMachine(f.space, "db-01", []string{"db"}, []string{"Environments-100"}, nil)
	b := f.srv.AddMachine(f.space, "db-02", []string{"db"}, []string{"Environments-100"}, nil)

	create := f.run(config.ActionCreate, "feature/foo")
	create.TargetRole = "db"
	require.NoError(t, f.orchestrator(create).Run(context.Background()))
	envID := f.srv.Items(f.space, "environments")[0]["Id"].(string)

	del := f.run(config.ActionDelete, "feature/foo")
	del.TargetName = "db-01"
	require.NoError(t, f.orchestrator(del).Run(context.Background()))

	assert.Empty(t, f.srv.Items(f.space, "environments"))
	for _, id := range []string{a, b} {
		m, ok := f.srv.Machine(f.space, id)
		require.True(t, ok)
		assert.NotContains(t, m.EnvironmentIDs, envID, "target %s still references the deleted environment", id)
		assert.Equal(t, []string{"Environments-100"}, m.EnvironmentIDs)
	}
}

func TestDeleteState_String(t *testing.T) {
	assert.Equal(t, "CANCELLING", StateCancelling.String())
	assert.Equal(t, "ENVIRONMENT_DELETED", StateEnvironmentDeleted.String())
	assert.Equal(t, "DeleteState(42)", DeleteState(42).String())
}
