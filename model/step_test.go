package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"test approval config":          testParseApproval,
		"test form config":              testParseForm,
		"test script config":            testParseScript,
		"test empty input":              testParseEmptyInput,
		"test unknown type is an error": testParseUnknown,
	} {
		t.Run(scenario, fn)
	}
}

func testParseApproval(t *testing.T) {
	step := WorkflowStep{
		Id:   "approve",
		Type: STEP_TYPE_APPROVAL,
		Input: json.RawMessage(`{
			"policy": "sequential",
			"approvers": [
				{"identifier":"alice","type":"user","required":true,"order":0},
				{"identifier":"finance","type":"role","required":true,"order":1}
			],
			"escalation": {"to":"cto","delaySeconds":3600}
		}`),
	}
	cfg, err := step.ParseConfig()
	require.NoError(t, err)
	approval, ok := cfg.(*ApprovalConfig)
	require.True(t, ok)
	require.Equal(t, POLICY_SEQUENTIAL, approval.Policy)
	require.Len(t, approval.Approvers, 2)
	require.Equal(t, APPROVER_TYPE_ROLE, approval.Approvers[1].Type)
	require.NotNil(t, approval.Escalation)
	require.Equal(t, "cto", approval.Escalation.To)
	require.Equal(t, 3600, approval.Escalation.DelaySeconds)
}

func testParseForm(t *testing.T) {
	step := WorkflowStep{
		Id:   "survey",
		Type: STEP_TYPE_FORM,
		Input: json.RawMessage(`{
			"schema": {
				"properties": {
					"zebra": {"type":"string"},
					"apple": {"type":"integer"},
					"mango": {"type":"boolean"}
				},
				"required": ["zebra"]
			},
			"sections": [{"title":"Main","fields":["zebra","apple"]}]
		}`),
	}
	cfg, err := step.ParseConfig()
	require.NoError(t, err)
	form, ok := cfg.(*FormConfig)
	require.True(t, ok)
	require.Equal(t, []string{"zebra", "apple", "mango"}, form.Schema.PropertyKeys(),
		"declaration order survives decoding, not lexical order")
	require.True(t, form.Schema.IsRequired("zebra"))
	require.False(t, form.Schema.IsRequired("apple"))
	require.Equal(t, []string{"zebra", "apple"}, form.Sections[0].Fields)

	// and survives the encode side too
	encoded, err := json.Marshal(form.Schema)
	require.NoError(t, err)
	var again Schema
	require.NoError(t, json.Unmarshal(encoded, &again))
	require.Equal(t, []string{"zebra", "apple", "mango"}, again.PropertyKeys())
}

func testParseScript(t *testing.T) {
	step := WorkflowStep{
		Id:    "price",
		Type:  STEP_TYPE_SCRIPT,
		Input: json.RawMessage(`{"expression":"$ = {total: 1};"}`),
	}
	cfg, err := step.ParseConfig()
	require.NoError(t, err)
	script, ok := cfg.(*ScriptConfig)
	require.True(t, ok)
	require.Equal(t, "$ = {total: 1};", script.Expression)
}

func testParseEmptyInput(t *testing.T) {
	step := WorkflowStep{Id: "survey", Type: STEP_TYPE_FORM}
	cfg, err := step.ParseConfig()
	require.NoError(t, err)
	form, ok := cfg.(*FormConfig)
	require.True(t, ok)
	require.Empty(t, form.Schema.Properties)
}

func testParseUnknown(t *testing.T) {
	step := WorkflowStep{Id: "x", Type: StepType("webhook"), Input: json.RawMessage(`{}`)}
	_, err := step.ParseConfig()
	require.Error(t, err)
}

func TestToStepType(t *testing.T) {
	st, err := ToStepType("APPROVAL")
	require.NoError(t, err)
	require.Equal(t, STEP_TYPE_APPROVAL, st)
	_, err = ToStepType("webhook")
	require.Error(t, err)
}
