package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/conductor/internal/orchestration/window"
)

var testCoords = window.StaticCoordinates{
	"A1": {window.ElementInput: {X: 1, Y: 1}, window.ElementCopy: {X: 1, Y: 2}, window.ElementProbe: {X: 1, Y: 3}},
	"A2": {window.ElementInput: {X: 2, Y: 1}, window.ElementCopy: {X: 2, Y: 2}, window.ElementProbe: {X: 2, Y: 3}},
}

func TestAutomation_InjectThenCopy(t *testing.T) {
	ui := NewAutomation(testCoords)
	ctx := context.Background()

	require.NoError(t, ui.PerformInjection(ctx, window.Point{X: 1, Y: 1}, "fix the bug"))

	ready, err := ui.ResponseReady(ctx, "A1")
	require.NoError(t, err)
	require.True(t, ready)

	text, err := ui.PerformCopy(ctx, window.Point{X: 1, Y: 2})
	require.NoError(t, err)
	require.Equal(t, "[A1 #1] done: fix the bug", text)

	clip, err := ui.ReadClipboard(ctx)
	require.NoError(t, err)
	require.Equal(t, text, clip)

	e, ok := ui.Editor("A1")
	require.True(t, ok)
	require.Equal(t, 1, e.Prompts)
	require.Equal(t, 1, ui.Calls("PerformInjection"))
}

func TestAutomation_LatencyHoldsClipboard(t *testing.T) {
	ui := NewAutomation(testCoords)
	ui.SetLatency(time.Hour)
	ui.SetClipboard("stale")
	ctx := context.Background()

	require.NoError(t, ui.PerformInjection(ctx, window.Point{X: 2, Y: 1}, "p"))

	ready, err := ui.ResponseReady(ctx, "A2")
	require.NoError(t, err)
	require.False(t, ready)

	text, err := ui.PerformCopy(ctx, window.Point{X: 2, Y: 2})
	require.NoError(t, err)
	require.Equal(t, "stale", text)
}

func TestAutomation_WrongElementFailsClick(t *testing.T) {
	ui := NewAutomation(testCoords)

	err := ui.PerformInjection(context.Background(), window.Point{X: 1, Y: 2}, "p")
	require.ErrorIs(t, err, window.ErrClickFailed)

	_, err = ui.PerformCopy(context.Background(), window.Point{X: 9, Y: 9})
	require.ErrorIs(t, err, window.ErrClickFailed)
}

func TestAutomation_HungEditor(t *testing.T) {
	ui := NewAutomation(testCoords)
	ui.SetHung("A1", true)

	err := ui.ProbeClick(context.Background(), window.Point{X: 1, Y: 3})
	require.ErrorIs(t, err, window.ErrClickFailed)
	require.NoError(t, ui.ProbeClick(context.Background(), window.Point{X: 2, Y: 3}))

	ui.SetHung("A1", false)
	require.NoError(t, ui.ProbeClick(context.Background(), window.Point{X: 1, Y: 3}))
}

func TestAutomation_FocusRecovery(t *testing.T) {
	ui := NewAutomation(testCoords)
	ctx := context.Background()

	ui.SetFocused("Editor A1", false)
	focused, err := ui.CheckWindowFocused(ctx, "Editor A1")
	require.NoError(t, err)
	require.False(t, focused)

	require.NoError(t, ui.PressNeutralKey(ctx))
	focused, err = ui.CheckWindowFocused(ctx, "Editor A1")
	require.NoError(t, err)
	require.True(t, focused)

	ui.SetNeutralKeyRecovers(false)
	ui.SetFocused("Editor A1", false)
	require.NoError(t, ui.PressNeutralKey(ctx))
	focused, _ = ui.CheckWindowFocused(ctx, "Editor A1")
	require.False(t, focused)
}

func TestAutomation_FuncOverrides(t *testing.T) {
	ui := NewAutomation(testCoords)
	ui.InjectFunc = func(context.Context, window.Point, string) error { return window.ErrFocusLost }

	err := ui.PerformInjection(context.Background(), window.Point{X: 1, Y: 1}, "p")
	require.ErrorIs(t, err, window.ErrFocusLost)

	e, _ := ui.Editor("A1")
	require.Zero(t, e.Prompts)
}
