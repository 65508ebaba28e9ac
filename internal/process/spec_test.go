package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	s := Spec{ID: "enc", Command: "ffmpeg -i in.mov out.mp4"}
	require.NoError(t, s.Validate())

	s = Spec{Command: "ffmpeg"}
	assert.Error(t, s.Validate())

	s = Spec{ID: "enc"}
	assert.Error(t, s.Validate())
}

func TestNormalizeDefaults(t *testing.T) {
	var s Spec
	s.Normalize()
	assert.Equal(t, DefaultStopGrace, s.StopGrace)
	assert.Equal(t, DefaultRestartBackoff, s.RestartBackoff)
	assert.Equal(t, DefaultHealthTimeout, s.HealthTimeout)

	s = Spec{StopGrace: time.Second}
	s.Normalize()
	assert.Equal(t, time.Second, s.StopGrace)
}

func TestBuildCommandTokenizesQuotes(t *testing.T) {
	s := Spec{ID: "enc", Command: `ffmpeg -metadata title="My Clip" out.mp4`}
	cmd, err := s.BuildCommand()
	require.NoError(t, err)
	require.Len(t, cmd.Args, 4)
	assert.Equal(t, "-metadata", cmd.Args[1])
	assert.Equal(t, "title=My Clip", cmd.Args[2])
}

func TestBuildCommandShellFallback(t *testing.T) {
	s := Spec{ID: "enc", Command: "echo a | grep a"}
	cmd, err := s.BuildCommand()
	require.NoError(t, err)
	// wrapped in a shell, the pipeline arrives as one argument
	assert.Contains(t, cmd.Args[len(cmd.Args)-1], "|")
}

func TestBuildCommandEmpty(t *testing.T) {
	s := Spec{ID: "enc", Command: "   "}
	_, err := s.BuildCommand()
	assert.Error(t, err)
}

func TestBuildCommandUnbalancedQuote(t *testing.T) {
	s := Spec{ID: "enc", Command: `tool "unterminated`}
	_, err := s.BuildCommand()
	assert.Error(t, err)
}
