package container

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimRuntime_Lifecycle(t *testing.T) {
	ctx := context.Background()
	rt := NewSimRuntime()

	id, err := rt.Create(ctx, Spec{Image: "busybox:latest", Name: "worker"})
	require.NoError(t, err)

	info, err := rt.Status(ctx, id)
	require.NoError(t, err)
	assert.True(t, info.Running)
	assert.Equal(t, "worker", info.Name)

	require.NoError(t, rt.Stop(ctx, id))
	info, _ = rt.Status(ctx, id)
	assert.False(t, info.Running)
	assert.Equal(t, "exited", info.State)

	require.NoError(t, rt.Remove(ctx, id))
	_, err = rt.Status(ctx, id)
	assert.Error(t, err)
}

func TestSimRuntime_Exec(t *testing.T) {
	ctx := context.Background()
	rt := NewSimRuntime()
	rt.RespondExec("uname", ExecResult{ExitCode: 0, Stdout: "Linux\n"})
	rt.RespondExec("false", ExecResult{ExitCode: 1, Stderr: "nope"})

	id, err := rt.Create(ctx, Spec{Image: "busybox:latest"})
	require.NoError(t, err)

	res, err := rt.Exec(ctx, id, []string{"uname", "-s"})
	require.NoError(t, err)
	assert.Equal(t, "Linux\n", res.Stdout)

	res, err = rt.Exec(ctx, id, []string{"false"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)

	require.NoError(t, rt.Stop(ctx, id))
	_, err = rt.Exec(ctx, id, []string{"uname"})
	assert.Error(t, err)
}

func TestSimRuntime_ListOrder(t *testing.T) {
	ctx := context.Background()
	rt := NewSimRuntime()

	first, _ := rt.Create(ctx, Spec{Image: "a"})
	second, _ := rt.Create(ctx, Spec{Image: "b"})

	infos, err := rt.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, first, infos[0].ID)
	assert.Equal(t, second, infos[1].ID)

	require.NoError(t, rt.Remove(ctx, first))
	infos, _ = rt.List(ctx)
	require.Len(t, infos, 1)
	assert.Equal(t, second, infos[0].ID)
}
