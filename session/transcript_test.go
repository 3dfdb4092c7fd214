package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/room4-2/auralive/live"
)

func TestTranscript_KeepsMostRecent(t *testing.T) {
	tr := NewTranscript(0)
	assert.Equal(t, DefaultTranscriptLimit, tr.Limit())

	for i := 0; i < 15; i++ {
		tr.Append(Line{Speaker: live.SpeakerModel, Text: fmt.Sprintf("line %d", i)})
	}

	lines := tr.Lines()
	assert.Equal(t, 11, tr.Len())
	assert.Equal(t, "line 4", lines[0].Text)
	assert.Equal(t, "line 14", lines[10].Text)
}

func TestTranscript_LinesIsACopy(t *testing.T) {
	tr := NewTranscript(3)
	tr.Append(Line{Speaker: live.SpeakerUser, Text: "hello"})

	lines := tr.Lines()
	lines[0].Text = "changed"

	assert.Equal(t, "hello", tr.Lines()[0].Text)
}

func TestLine_String(t *testing.T) {
	assert.Equal(t, "You: hi", Line{Speaker: live.SpeakerUser, Text: "hi"}.String())
	assert.Equal(t, "Model: hello", Line{Speaker: live.SpeakerModel, Text: "hello"}.String())
}
