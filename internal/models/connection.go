package models

// Connection is a named Companion endpoint. Stored connections are addressed by
// 1-based index from templates; index 0 is the default connection URL.
type Connection struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
	URL   string `json:"url" yaml:"url"`
}

// CloneConnections copies a connection list.
func CloneConnections(in []Connection) []Connection {
	out := make([]Connection, len(in))
	copy(out, in)
	return out
}
