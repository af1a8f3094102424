package provision

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"octobranch/internal/octopus"
	"octobranch/internal/octopus/octopustest"
	"octobranch/internal/resolver"
	"octobranch/pkg/logging"
)

func init() {
	logging.Init(logging.LevelDebug, logging.FormatText, io.Discard)
}

func newTestProvisioner(t *testing.T) (*octopustest.Server, *Provisioner, string, string) {
	t.Helper()
	srv := octopustest.NewServer("API-TEST")
	t.Cleanup(srv.Close)
	space := srv.AddSpace("Default")
	project := srv.AddProject(space, "Web")
	client := octopus.NewClient(srv.URL, "API-TEST")
	return srv, New(client, resolver.New(client)), space, project
}

func ref(s string) *string { return &s }

func TestTagPattern(t *testing.T) {
	assert.Equal(t, "^feature/foo.*$", TagPattern("feature/foo"))
}

func TestBuildLifecycle_WirePayload(t *testing.T) {
	data, err := json.Marshal(BuildLifecycle("Spaces-1", "Environments-5", "feature/foo"))
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))

	keepForever := map[string]interface{}{"ShouldKeepForever": true, "QuantityToKeep": float64(0), "Unit": "Days"}
	want := map[string]interface{}{
		"Id":      nil,
		"Name":    "feature/foo",
		"SpaceId": "Spaces-1",
		"Phases": []interface{}{map[string]interface{}{
			"Name":                               "feature/foo",
			"OptionalDeploymentTargets":          []interface{}{"Environments-5"},
			"AutomaticDeploymentTargets":         []interface{}{},
			"MinimumEnvironmentsBeforePromotion": float64(0),
			"IsOptionalPhase":                    false,
		}},
		"ReleaseRetentionPolicy":  keepForever,
		"TentacleRetentionPolicy": keepForever,
		"Links":                   nil,
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lifecycle payload mismatch (-want +got):\n%s", diff)
	}
}

func TestChannelRules(t *testing.T) {
	discovered := []octopus.ActionPackage{
		{DeploymentAction: "Deploy API", PackageReference: ref("api")},
		{DeploymentAction: "Deploy API", PackageReference: ref("migrations")},
		{DeploymentAction: "Deploy Web", PackageReference: ref("web")},
	}

	t.Run("step and package given yields exactly one rule", func(t *testing.T) {
		rules := ChannelRules("feature/foo", "Deploy Web", "web", discovered)
		require.Len(t, rules, 1)
		assert.Equal(t, octopus.ChannelRule{
			Tag:            "^feature/foo.*$",
			Actions:        []string{"Deploy Web"},
			ActionPackages: []octopus.ActionPackage{{DeploymentAction: "Deploy Web", PackageReference: ref("web")}},
		}, rules[0])
	})

	t.Run("step without package", func(t *testing.T) {
		rules := ChannelRules("feature/foo", "Run Script", "", nil)
		require.Len(t, rules, 1)
		assert.Nil(t, rules[0].ActionPackages[0].PackageReference)
	})

	t.Run("no step yields one rule per pair", func(t *testing.T) {
		rules := ChannelRules("feature/foo", "  ", "", discovered)
		require.Len(t, rules, 3)
		for i, r := range rules {
			assert.Equal(t, "^feature/foo.*$", r.Tag)
			assert.Equal(t, []string{discovered[i].DeploymentAction}, r.Actions)
			assert.Equal(t, []octopus.ActionPackage{discovered[i]}, r.ActionPackages)
		}
	})

	t.Run("no step and no packages", func(t *testing.T) {
		assert.Empty(t, ChannelRules("feature/foo", "", "", nil))
	})
}

func TestChannelRules_WirePayloadWithoutPackage(t *testing.T) {
	data, err := json.Marshal(ChannelRules("feature/foo", "Run Script", "", nil))
	require.NoError(t, err)

	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))

	want := []map[string]interface{}{{
		"Tag":     "^feature/foo.*$",
		"Actions": []interface{}{"Run Script"},
		"ActionPackages": []interface{}{map[string]interface{}{
			"DeploymentAction": "Run Script",
			"PackageReference": nil,
		}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("channel rules payload mismatch (-want +got):\n%s", diff)
	}
}

func TestPackagesFromProcess(t *testing.T) {
	process := octopus.DeploymentProcess{Steps: []octopus.DeploymentStep{
		{Name: "Deploy API", Actions: []octopus.DeploymentAction{
			{Name: "Deploy API", Packages: []octopus.PackageReference{{Name: "api"}, {Name: "migrations"}}},
		}},
		{Name: "Notify", Actions: []octopus.DeploymentAction{{Name: "Notify"}}},
		{Name: "Deploy Web", Actions: []octopus.DeploymentAction{
			{Name: "Deploy Web", Packages: []octopus.PackageReference{{Name: "web"}}},
		}},
	}}

	assert.Equal(t, []octopus.ActionPackage{
		{DeploymentAction: "Deploy API", PackageReference: ref("api")},
		{DeploymentAction: "Deploy API", PackageReference: ref("migrations")},
		{DeploymentAction: "Deploy Web", PackageReference: ref("web")},
	}, PackagesFromProcess(process))
}

func TestEnsure_IsIdempotent(t *testing.T) {
	srv, p, space, project := newTestProvisioner(t)
	ctx := context.Background()

	ensureAll := func() (string, string, string) {
		envID, err := p.EnsureEnvironment(ctx, space, "feature/foo")
		require.NoError(t, err)
		lcID, err := p.EnsureLifecycle(ctx, space, envID, "feature/foo")
		require.NoError(t, err)
		chID, err := p.EnsureChannel(ctx, ChannelRequest{
			SpaceID: space, ProjectID: project, LifecycleID: lcID, Branch: "feature/foo",
			Step: "Deploy", Package: "web",
		})
		require.NoError(t, err)
		return envID, lcID, chID
	}

	env1, lc1, ch1 := ensureAll()
	srv.ResetRequests()
	env2, lc2, ch2 := ensureAll()

	assert.Equal(t, env1, env2)
	assert.Equal(t, lc1, lc2)
	assert.Equal(t, ch1, ch2)
	assert.Len(t, srv.Items(space, "environments"), 1)
	assert.Len(t, srv.Items(space, "lifecycles"), 1)
	assert.Len(t, srv.Items(space, "channels"), 1)
	assert.Zero(t, srv.CountRequests(http.MethodPost, ""), "second run must not create anything")
}

func TestEnsureLifecycle_PostsPhaseBoundToEnvironment(t *testing.T) {
	srv, p, space, _ := newTestProvisioner(t)
	ctx := context.Background()

	envID, err := p.EnsureEnvironment(ctx, space, "feature/foo")
	require.NoError(t, err)
	_, err = p.EnsureLifecycle(ctx, space, envID, "feature/foo")
	require.NoError(t, err)

	lifecycles := srv.Items(space, "lifecycles")
	require.Len(t, lifecycles, 1)
	phases := lifecycles[0]["Phases"].([]interface{})
	require.Len(t, phases, 1)
	phase := phases[0].(map[string]interface{})
	assert.Equal(t, []interface{}{envID}, phase["OptionalDeploymentTargets"])
	assert.Equal(t, []interface{}{}, phase["AutomaticDeploymentTargets"])
}

func TestEnsureChannel_DiscoversPackagesWithoutStep(t *testing.T) {
	srv, p, space, project := newTestProvisioner(t)
	srv.SetDeploymentProcess(space, project, octopus.DeploymentProcess{Steps: []octopus.DeploymentStep{
		{Name: "Deploy API", Actions: []octopus.DeploymentAction{{Name: "Deploy API", Packages: []octopus.PackageReference{{Name: "api"}}}}},
		{Name: "Deploy Web", Actions: []octopus.DeploymentAction{{Name: "Deploy Web", Packages: []octopus.PackageReference{{Name: "web"}}}}},
	}})

	id, err := p.EnsureChannel(context.Background(), ChannelRequest{
		SpaceID: space, ProjectID: project, LifecycleID: "Lifecycles-1", Branch: "feature/foo",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stored, ok := srv.Find(space, "channels", id)
	require.True(t, ok)
	assert.Equal(t, false, stored["IsDefault"])
	assert.Equal(t, "Lifecycles-1", stored["LifecycleId"])
	assert.Equal(t, project, stored["ProjectId"])
	rules := stored["Rules"].([]interface{})
	require.Len(t, rules, 2)
	for _, r := range rules {
		assert.Equal(t, "^feature/foo.*$", r.(map[string]interface{})["Tag"])
	}
}

func TestEnsureEnvironment_CreateFailureIsCommunicationError(t *testing.T) {
	srv, p, space, _ := newTestProvisioner(t)
	srv.FailWith(func(method, path string) int {
		if method == http.MethodPost {
			return http.StatusInternalServerError
		}
		return 0
	})

	_, err := p.EnsureEnvironment(context.Background(), space, "feature/foo")
	require.Error(t, err)
	assert.True(t, octopus.IsCommunicationError(err))
}

func TestEnsure_BlankInputsAreNoops(t *testing.T) {
	srv, p, _, _ := newTestProvisioner(t)
	ctx := context.Background()

	id, err := p.EnsureEnvironment(ctx, "", "feature/foo")
	assert.NoError(t, err)
	assert.Empty(t, id)
	id, err = p.EnsureLifecycle(ctx, "Spaces-1", "", "feature/foo")
	assert.NoError(t, err)
	assert.Empty(t, id)
	id, err = p.EnsureChannel(ctx, ChannelRequest{SpaceID: "Spaces-1", Branch: "feature/foo"})
	assert.NoError(t, err)
	assert.Empty(t, id)

	assert.Empty(t, srv.Requests())
}
