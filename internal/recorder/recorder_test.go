package recorder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sync-editor/backend/internal/protocol"
)

func readRecording(t *testing.T, r io.Reader) (Header, []Event) {
	t.Helper()
	scanner := bufio.NewScanner(r)

	require.True(t, scanner.Scan(), "recording should have a header")
	var header Header
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &header))

	var events []Event
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return header, events
}

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(Event{Offset: 1.5, Kind: KindContent, Data: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `[1.5,"c","hi"]`, string(data))

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, Event{Offset: 1.5, Kind: KindContent, Data: "hi"}, ev)
}

func TestEventUnmarshalRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not an array", `{"offset":1}`},
		{"too short", `[1,"c"]`},
		{"offset not number", `["1","c","x"]`},
		{"kind not string", `[1,2,"x"]`},
		{"data not string", `[1,"c",3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ev Event
			assert.Error(t, json.Unmarshal([]byte(tt.input), &ev))
		})
	}
}

func TestRecordingWriteMessage(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewWithWriter(&buf, "s1")
	require.NoError(t, err)

	require.NoError(t, rec.WriteMessage(protocol.ContentUpdate{Content: "hello", Language: "go"}))
	require.NoError(t, rec.WriteMessage(protocol.LanguageUpdate{Language: "rust"}))
	require.NoError(t, rec.WriteMessage(protocol.UsersUpdate{ConnectedUsers: []string{"alice", "bob"}}))
	require.NoError(t, rec.WriteMessage(protocol.UsersUpdate{}))
	require.NoError(t, rec.Close())

	header, events := readRecording(t, &buf)
	assert.Equal(t, formatVersion, header.Version)
	assert.Equal(t, "s1", header.SessionID)

	require.Len(t, events, 5)
	assert.Equal(t, KindContent, events[0].Kind)
	assert.Equal(t, "hello", events[0].Data)
	assert.Equal(t, KindLanguage, events[1].Kind)
	assert.Equal(t, "go", events[1].Data)
	assert.Equal(t, "rust", events[2].Data)
	assert.Equal(t, KindUsers, events[3].Kind)
	assert.Equal(t, `["alice","bob"]`, events[3].Data)
	assert.Equal(t, `[]`, events[4].Data)

	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Offset, events[i-1].Offset)
	}
}

func TestManagerLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "records")
	m, err := NewManager(dir)
	require.NoError(t, err)

	require.NoError(t, m.Record("room/1", protocol.ContentUpdate{Content: "a"}))
	require.NoError(t, m.Record("room/1", protocol.ContentUpdate{Content: "ab"}))
	require.NoError(t, m.Close("room/1"))
	require.NoError(t, m.Close("room/1"), "closing twice is a no-op")

	path := m.Path("room/1")
	assert.Equal(t, dir, filepath.Dir(path), "ids are escaped into a single file name")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	header, events := readRecording(t, f)
	assert.Equal(t, "room/1", header.SessionID)
	require.Len(t, events, 2)
	assert.Equal(t, "ab", events[1].Data)
}

func TestManagerCloseAll(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, m.Record("a", protocol.LanguageUpdate{Language: "go"}))
	require.NoError(t, m.Record("b", protocol.LanguageUpdate{Language: "c"}))
	require.NoError(t, m.CloseAll())

	for _, id := range []string{"a", "b"} {
		_, err := os.Stat(m.Path(id))
		assert.NoError(t, err)
	}
}

func TestManagerReusedSessionAppends(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, m.Record("s1", protocol.ContentUpdate{Content: "first"}))
	require.NoError(t, m.Close("s1"))
	require.NoError(t, m.Record("s1", protocol.ContentUpdate{Content: "second"}))
	require.NoError(t, m.Close("s1"))

	data, err := os.ReadFile(m.Path("s1"))
	require.NoError(t, err)

	headers := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if bytes.HasPrefix(scanner.Bytes(), []byte("{")) {
			headers++
		}
	}
	assert.Equal(t, 2, headers)
	assert.Contains(t, string(data), `"first"`)
	assert.Contains(t, string(data), `"second"`)
}
