package actuator

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-deskman/internal/log"
	"github.com/teslashibe/go-deskman/pkg/robot"
)

type headCall struct{ dx, dy int }

type fakeHead struct {
	calls []headCall
	err   error
}

func (h *fakeHead) MoveHead(dx, dy int) error {
	if h.err != nil {
		return h.err
	}
	h.calls = append(h.calls, headCall{dx, dy})
	return nil
}

type fakeFace struct {
	eyes, smile int
	calls       int
	mouth       robot.MouthShape
}

func (f *fakeFace) SetExpression(eyes, smile int) error {
	f.eyes, f.smile = eyes, smile
	f.calls++
	return nil
}

func (f *fakeFace) SetMouth(shape robot.MouthShape) { f.mouth = shape }

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeHead, *fakeFace) {
	t.Helper()
	head := &fakeHead{}
	face := &fakeFace{}
	d, err := NewDispatcher(log.Discard(), DefaultTools(head, face)...)
	require.NoError(t, err)
	return d, head, face
}

func TestDispatch_MoveHead(t *testing.T) {
	tests := []struct {
		direction string
		want      headCall
	}{
		{"Up", headCall{0, 200}},
		{"Down", headCall{0, -200}},
		{"Left", headCall{800, 0}},
		{"Right", headCall{-800, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.direction, func(t *testing.T) {
			d, head, _ := newTestDispatcher(t)

			out, err := d.Dispatch("move_head", `{"direction":"`+tt.direction+`"}`)
			require.NoError(t, err)
			assert.Contains(t, out, tt.direction)
			assert.Equal(t, []headCall{tt.want}, head.calls)
		})
	}
}

func TestDispatch_MoveFace(t *testing.T) {
	d, _, face := newTestDispatcher(t)

	_, err := d.Dispatch("move_face", `{"eyes":5,"smile":-1}`)
	require.NoError(t, err)
	assert.Equal(t, 5, face.eyes)
	assert.Equal(t, -1, face.smile)
}

func TestDispatch_BadArguments(t *testing.T) {
	tests := []struct {
		name      string
		function  string
		arguments string
	}{
		{"not json", "move_head", `{"direction":`},
		{"empty", "move_head", ``},
		{"missing field", "move_head", `{}`},
		{"wrong type", "move_head", `{"direction":3}`},
		{"bad enum", "move_head", `{"direction":"Sideways"}`},
		{"enum is case sensitive", "move_head", `{"direction":"up"}`},
		{"array", "move_head", `["Up"]`},
		{"face missing smile", "move_face", `{"eyes":1}`},
		{"face float", "move_face", `{"eyes":1.5,"smile":0}`},
		{"face string", "move_face", `{"eyes":"wide","smile":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, head, face := newTestDispatcher(t)

			_, err := d.Dispatch(tt.function, tt.arguments)
			assert.ErrorIs(t, err, ErrBadArguments)
			assert.Empty(t, head.calls, "no side effect")
			assert.Zero(t, face.calls, "no side effect")
		})
	}
}

func TestDispatch_UnknownFunction(t *testing.T) {
	d, head, _ := newTestDispatcher(t)

	_, err := d.Dispatch("launch_rocket", `{}`)
	assert.ErrorIs(t, err, ErrUnknownFunction)
	assert.Empty(t, head.calls)
}

func TestDispatch_ActuatorError(t *testing.T) {
	d, head, _ := newTestDispatcher(t)
	head.err = errors.New("servo bridge down")

	_, err := d.Dispatch("move_head", `{"direction":"Up"}`)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBadArguments)

	stats := d.Stats()["move_head"]
	assert.Equal(t, int64(1), stats.Calls)
	assert.Equal(t, int64(1), stats.Failures)
}

func TestTools_Descriptors(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	tools := d.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "move_head", tools[0].Name)
	assert.Equal(t, "move_face", tools[1].Name)

	// The descriptor must serialize to the session tool shape.
	data, err := json.Marshal(tools[0])
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "function", got["type"])

	params := got["parameters"].(map[string]any)
	assert.Equal(t, []any{"direction"}, params["required"])
	dir := params["properties"].(map[string]any)["direction"].(map[string]any)
	assert.Equal(t, []any{"Up", "Down", "Left", "Right"}, dir["enum"])
}

func TestRegister(t *testing.T) {
	d, err := NewDispatcher(log.Discard())
	require.NoError(t, err)

	echo := Tool{Name: "echo", Handler: func(a string) (string, error) { return a, nil }}
	require.NoError(t, d.Register(echo))
	assert.ErrorIs(t, d.Register(echo), ErrDuplicateTool)
	assert.Error(t, d.Register(Tool{Name: "no_handler"}))
	assert.True(t, d.Has("echo"))

	out, err := d.Dispatch("echo", `"hi"`)
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, out)
}

func TestDefaultTools_NilCollaborators(t *testing.T) {
	assert.Empty(t, DefaultTools(nil, nil))
	assert.Len(t, DefaultTools(&fakeHead{}, nil), 1)
}

func TestDispatch_WithRealHead(t *testing.T) {
	head := robot.NewHead(nil, log.Discard())
	d, err := NewDispatcher(log.Discard(), MoveHeadTool(head))
	require.NoError(t, err)

	_, err = d.Dispatch("move_head", `{"direction":"Left"}`)
	require.NoError(t, err)
	assert.Equal(t, robot.Position{X: robot.HomeX + 800, Y: robot.HomeY}, head.Position())
}
