package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/partnerportal/portal/internal/testing/guard"
)

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"migrate", "jobs", "reconcile", "superadmin"})

	jobs, _, err := root.Find([]string{"jobs", "trigger"})
	require.NoError(t, err)
	assert.Equal(t, "trigger", jobs.Name())
	assert.NotNil(t, jobs.Flags().Lookup("partner"))
}

func TestTriggerRequiresTaskName(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"jobs", "trigger"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestMigrateRejectsArgs(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"migrate", "extra"})
	assert.Error(t, root.Execute())
}
