package types

// Encoding is the declared encoding of a content fragment.
type Encoding string

const (
	EncodingText Encoding = "text"
	EncodingJSON Encoding = "json"
)

// ContentFragment is one piece of decoded markup to scan for class tokens.
// JSON fragments have already been canonicalised to text.
type ContentFragment struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Encoding Encoding `json:"encoding"`
	Provider string   `json:"provider,omitempty"`
}
