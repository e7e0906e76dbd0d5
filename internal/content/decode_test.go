package content

import (
	"encoding/json"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgrosua/yabe-siul/internal/shared/types"
)

func TestCursorJSON(t *testing.T) {
	tests := []struct {
		raw  string
		want Cursor
	}{
		{`false`, NoCursor},
		{`null`, NoCursor},
		{`""`, NoCursor},
		{`0`, NoCursor},
		{`"abc"`, "abc"},
		{`2`, "2"},
		{`{"page":2}`, `{"page":2}`},
	}
	for _, tt := range tests {
		var c Cursor
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &c), tt.raw)
		assert.Equal(t, tt.want, c, tt.raw)
	}

	var c Cursor
	assert.Error(t, json.Unmarshal([]byte(`true`), &c))

	out, err := json.Marshal(Metadata{NextBatch: NoCursor})
	require.NoError(t, err)
	assert.JSONEq(t, `{"next_batch":false}`, string(out))

	out, err = json.Marshal(Metadata{NextBatch: "3"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"next_batch":"3"}`, string(out))
}

func TestBatchWireFormat(t *testing.T) {
	raw := `{"metadata":{"next_batch":false},"contents":[{"id":"7","title":"Home","content":"PGRpdiBjbGFzcz0icC00Ij48L2Rpdj4=","type":"text"}]}`

	var batch Batch
	require.NoError(t, json.Unmarshal([]byte(raw), &batch))
	assert.True(t, batch.Metadata.NextBatch.Done())
	require.Len(t, batch.Contents, 1)
	assert.Equal(t, `<div class="p-4"></div>`, string(batch.Contents[0].Content))
}

func TestDecodeText(t *testing.T) {
	fragment, err := Decode(RawFragment{ID: "1", Title: "Home", Content: []byte("\xEF\xBB\xBF<p class=\"mt-2\">")})
	require.NoError(t, err)
	assert.Equal(t, types.EncodingText, fragment.Encoding)
	assert.Equal(t, `<p class="mt-2">`, fragment.Content)
	assert.Equal(t, "Home", fragment.Title)
}

func TestDecodeTranscodesLegacyCharset(t *testing.T) {
	latin1 := []byte("<p class=\"font-bold\">Caf\xe9 cr\xe8me br\xfbl\xe9e, d\xe9j\xe0 vu, \xe0 la carte, na\xefve fa\xe7ade</p>")

	fragment, err := Decode(RawFragment{ID: "1", Content: latin1})
	require.NoError(t, err)
	assert.Contains(t, fragment.Content, "font-bold")
	assert.True(t, utf8.ValidString(fragment.Content))
}

func TestDecodeJSONIsStable(t *testing.T) {
	a, err := Decode(RawFragment{ID: "a", Content: []byte(`{"b":"text-sm","a":["p-2","m-1"]}`), Type: types.EncodingJSON})
	require.NoError(t, err)
	b, err := Decode(RawFragment{ID: "b", Content: []byte(`{"a":["p-2","m-1"],"b":"text-sm"}`), Type: types.EncodingJSON})
	require.NoError(t, err)

	assert.Equal(t, a.Content, b.Content)
	assert.Contains(t, a.Content, "- p-2")
	assert.Contains(t, a.Content, "b: text-sm")
}

func TestDecodeRejectsBadInput(t *testing.T) {
	_, err := Decode(RawFragment{ID: "1", Content: []byte(`{not json`), Type: types.EncodingJSON})
	assert.Error(t, err)

	_, err = Decode(RawFragment{ID: "2", Content: []byte(`x`), Type: "xml"})
	assert.Error(t, err)
}
