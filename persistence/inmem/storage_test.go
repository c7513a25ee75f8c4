package inmem

import (
	"testing"

	"github.com/ispkit/stepflow/metadata"
	"github.com/ispkit/stepflow/model"
	"github.com/ispkit/stepflow/persistence"
	"github.com/stretchr/testify/require"
)

func TestStorage(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, s *Storage){
		"test instance round trip":            testInstanceRoundTrip,
		"test readers get isolated snapshots": testSnapshotIsolation,
		"test list keeps insertion order":     testListOrder,
		"test delete instance":                testDeleteInstance,
		"test template round trip":            testTemplateRoundTrip,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewStorage())
		})
	}
}

func instanceFixture(id string) *model.WorkflowInstance {
	return &model.WorkflowInstance{
		Id:     id,
		Status: model.INSTANCE_IN_PROGRESS,
		Steps: []model.WorkflowStep{
			{Id: "survey", Type: model.STEP_TYPE_FORM, Status: model.STEP_IN_PROGRESS},
		},
		Data: map[string]any{"input": map[string]any{}, "steps": map[string]any{}},
	}
}

func testInstanceRoundTrip(t *testing.T, s *Storage) {
	in := instanceFixture("wf-1")
	require.NoError(t, s.SaveInstance(in))

	got, err := s.GetInstance("wf-1")
	require.NoError(t, err)
	require.Equal(t, in.Id, got.Id)
	require.Equal(t, model.INSTANCE_IN_PROGRESS, got.Status)
	require.Len(t, got.Steps, 1)

	_, err = s.GetInstance("missing")
	var notFound persistence.InstanceNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "missing", notFound.Id)
}

func testSnapshotIsolation(t *testing.T, s *Storage) {
	in := instanceFixture("wf-1")
	require.NoError(t, s.SaveInstance(in))

	first, err := s.GetInstance("wf-1")
	require.NoError(t, err)
	first.Status = model.INSTANCE_CANCELLED
	first.Steps[0].Status = model.STEP_FAILED

	second, err := s.GetInstance("wf-1")
	require.NoError(t, err)
	require.Equal(t, model.INSTANCE_IN_PROGRESS, second.Status)
	require.Equal(t, model.STEP_IN_PROGRESS, second.Steps[0].Status)
}

func testListOrder(t *testing.T, s *Storage) {
	for _, id := range []string{"wf-3", "wf-1", "wf-2"} {
		require.NoError(t, s.SaveInstance(instanceFixture(id)))
	}
	// re-saving must not change the position
	require.NoError(t, s.SaveInstance(instanceFixture("wf-3")))

	list, err := s.ListInstances()
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "wf-3", list[0].Id)
	require.Equal(t, "wf-1", list[1].Id)
	require.Equal(t, "wf-2", list[2].Id)
}

func testDeleteInstance(t *testing.T, s *Storage) {
	require.NoError(t, s.SaveInstance(instanceFixture("wf-1")))
	require.NoError(t, s.DeleteInstance("wf-1"))

	var notFound persistence.InstanceNotFoundError
	require.ErrorAs(t, s.DeleteInstance("wf-1"), &notFound)

	list, err := s.ListInstances()
	require.NoError(t, err)
	require.Empty(t, list)
}

func testTemplateRoundTrip(t *testing.T, s *Storage) {
	tpl := model.WorkflowTemplate{Id: "provision-fiber", Name: "Provision Fiber"}
	require.NoError(t, s.SaveTemplate(tpl))

	got, err := s.GetTemplate("provision-fiber")
	require.NoError(t, err)
	require.Equal(t, "Provision Fiber", got.Name)

	list, err := s.ListTemplates()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteTemplate("provision-fiber"))
	_, err = s.GetTemplate("provision-fiber")
	var notFound metadata.TemplateNotFoundError
	require.ErrorAs(t, err, &notFound)
}
