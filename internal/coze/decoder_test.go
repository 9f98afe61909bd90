package coze

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain reads every event until the stream ends.
func drain(t *testing.T, s interface{ Next() (Event, error) }) []Event {
	t.Helper()
	var events []Event
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func decode(t *testing.T, body string) []Event {
	t.Helper()
	return drain(t, NewDecoder(strings.NewReader(body)))
}

func TestDecoder_TypicalStream(t *testing.T) {
	body := strings.Join([]string{
		"event:conversation.chat.created",
		`data:{"id":"123","status":"created"}`,
		"",
		"event:conversation.message.delta",
		`data:{"role":"assistant","type":"answer","reasoning_content":"先想想"}`,
		"",
		"event:conversation.message.delta",
		`data:{"role":"assistant","type":"answer","content":"你好"}`,
		"",
		"event:conversation.message.delta",
		`data:{"role":"assistant","type":"answer","content":"，朋友"}`,
		"",
		"event:conversation.message.completed",
		`data:{"role":"assistant","type":"answer","content":"你好，朋友"}`,
		"",
		"event:done",
		`data:"[DONE]"`,
		"",
	}, "\n")

	events := decode(t, body)

	require.Len(t, events, 5)
	assert.Equal(t, Event{Kind: EventReasoningDelta, Text: "先想想"}, events[0])
	assert.Equal(t, Event{Kind: EventContentDelta, Text: "你好"}, events[1])
	assert.Equal(t, Event{Kind: EventContentDelta, Text: "，朋友"}, events[2])
	assert.Equal(t, Event{Kind: EventTurnCompleted, Type: TypeAnswer, Text: "你好，朋友"}, events[3])
	assert.Equal(t, EventDone, events[4].Kind)
}

func TestDecoder_ReasoningBeforeContentInOneFrame(t *testing.T) {
	events := decode(t, "event:conversation.message.delta\n"+
		`data:{"role":"assistant","type":"answer","content":"B","reasoning_content":"A"}`+"\n")

	require.Len(t, events, 2)
	assert.Equal(t, EventReasoningDelta, events[0].Kind)
	assert.Equal(t, EventContentDelta, events[1].Kind)
}

func TestDecoder_SkipsMalformedLines(t *testing.T) {
	body := strings.Join([]string{
		"event:conversation.message.delta",
		"data:{not json",
		"data:[1,2,3]",
		"data:null",
		`data:"just a string"`,
		"data:",
		"garbage line",
		": comment",
		`data:{"role":"assistant","type":"answer","content":"ok"}`,
	}, "\n")

	events := decode(t, body)

	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Text)
}

func TestDecoder_DoneStopsDecoding(t *testing.T) {
	for _, marker := range []string{"[DONE]", `"[DONE]"`, " [DONE] "} {
		t.Run(marker, func(t *testing.T) {
			body := "event:conversation.message.delta\n" +
				`data:{"role":"assistant","type":"answer","content":"before"}` + "\n" +
				"data:" + marker + "\n" +
				"event:conversation.message.delta\n" +
				`data:{"role":"assistant","type":"answer","content":"after"}` + "\n"

			events := decode(t, body)

			require.Len(t, events, 2)
			assert.Equal(t, "before", events[0].Text)
			assert.Equal(t, EventDone, events[1].Kind)
		})
	}
}

func TestDecoder_FiltersMetadataAndOtherRoles(t *testing.T) {
	body := strings.Join([]string{
		"event:conversation.message.delta",
		`data:{"role":"assistant","type":"answer","content":"{\"msg_type\":\"x\"}","msg_type":"generate_answer_finish"}`,
		`data:{"role":"user","type":"answer","content":"echo"}`,
		`data:{"role":"assistant","type":"follow_up","content":"next?"}`,
		`data:{"role":"assistant","type":"answer","content":"real","msg_type":""}`,
		"event:conversation.message.completed",
		`data:{"role":"assistant","type":"verbose","content":"{\"msg_type\":\"knowledge\"}"}`,
		`data:{"role":"tool","type":"answer","content":"tool output"}`,
		`data:{"role":"assistant","type":"follow_up","content":"想聊聊别的吗？"}`,
	}, "\n")

	events := decode(t, body)

	require.Len(t, events, 2)
	assert.Equal(t, Event{Kind: EventContentDelta, Text: "real"}, events[0])
	assert.Equal(t, Event{Kind: EventTurnCompleted, Type: TypeFollowUp, Text: "想聊聊别的吗？"}, events[1])
}

func TestDecoder_BlankLineResetsEventName(t *testing.T) {
	body := "event:conversation.message.delta\n" +
		`data:{"role":"assistant","type":"answer","content":"one"}` + "\n" +
		"\n" +
		`data:{"role":"assistant","type":"answer","content":"orphan"}` + "\n"

	events := decode(t, body)

	require.Len(t, events, 1)
	assert.Equal(t, "one", events[0].Text)
}

func TestDecoder_CRLFAndUnterminatedLastLine(t *testing.T) {
	body := "event: conversation.message.delta\r\n" +
		`data: {"role":"assistant","type":"answer","content":"a"}` + "\r\n" +
		`data: {"role":"assistant","type":"answer","content":"b"}`

	events := decode(t, body)

	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Text)
	assert.Equal(t, "b", events[1].Text)
}

func TestDecoder_FallbackDocument(t *testing.T) {
	body := `{"code":0,"data":{"messages":[` +
		`{"role":"user","content":"hi"},` +
		`{"role":"assistant","content":""},` +
		`{"role":"assistant","content":"这是回复"},` +
		`{"role":"assistant","content":"second"}]}}`

	events := decode(t, body)

	require.Len(t, events, 1)
	assert.Equal(t, Event{Kind: EventTurnCompleted, Type: TypeAnswer, Text: "这是回复"}, events[0])
}

func TestDecoder_FallbackIgnoresErrorsAndFramedBodies(t *testing.T) {
	assert.Empty(t, decode(t, `{"code":4000,"msg":"bad bot"}`))
	assert.Empty(t, decode(t, "not json at all"))
	assert.Empty(t, decode(t, ""))
	assert.Empty(t, decode(t, "event:ping\n"+`{"code":0,"data":{"messages":[{"role":"assistant","content":"x"}]}}`))
}

type failingReader struct {
	data string
	read bool
}

var errBroken = errors.New("connection reset")

func (r *failingReader) Read(p []byte) (int, error) {
	if r.read {
		return 0, errBroken
	}
	r.read = true
	return copy(p, r.data), nil
}

func TestDecoder_ReturnsReadErrorAfterPendingEvents(t *testing.T) {
	d := NewDecoder(&failingReader{data: "event:conversation.message.delta\n" +
		`data:{"role":"assistant","type":"answer","content":"partial"}` + "\n"})

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "partial", ev.Text)

	_, err = d.Next()
	assert.ErrorIs(t, err, errBroken)
	_, err = d.Next()
	assert.ErrorIs(t, err, errBroken)
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "content_delta", EventContentDelta.String())
	assert.Equal(t, "done", EventDone.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}
