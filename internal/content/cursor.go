package content

import (
	"bytes"
	"fmt"

	"github.com/bytedance/sonic"
)

// Cursor is a provider's opaque continuation token. The empty cursor means
// "from the start" when sent and "exhausted" when received. On the wire an
// empty cursor is false; false, null, "", 0 and an absent field all decode
// to empty.
type Cursor string

// NoCursor starts a scan.
const NoCursor Cursor = ""

// Done reports whether the cursor marks an exhausted provider.
func (c Cursor) Done() bool {
	return c == NoCursor
}

func (c Cursor) MarshalJSON() ([]byte, error) {
	if c.Done() {
		return []byte("false"), nil
	}
	return sonic.Marshal(string(c))
}

func (c *Cursor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0,
		bytes.Equal(data, []byte("false")),
		bytes.Equal(data, []byte("null")),
		bytes.Equal(data, []byte("0")):
		*c = NoCursor
	case bytes.Equal(data, []byte("true")):
		return fmt.Errorf("content: cursor cannot be true")
	case data[0] == '"':
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("content: cursor: %w", err)
		}
		*c = Cursor(s)
	default:
		// Numbers and structured cursors travel back verbatim.
		*c = Cursor(data)
	}
	return nil
}
