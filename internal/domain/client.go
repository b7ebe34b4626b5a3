// Package domain contains identifiers and plain data exchanged with the game server.
package domain

const MaxNameLen = 36

// ConnectionID identifies one live connection to the server. Assigned by the server,
// never reused during a session.
type ConnectionID int

// SeatID identifies a logical player position, independent of the connection holding it.
type SeatID int

// ClientData is the introduction payload a participant announces about itself.
type ClientData struct {
	Name    string `json:"name"`
	Version int    `json:"version,omitempty"`
}

// NewClientData is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewClientData(name string, version int) (ClientData, error) {
	if len(name) == 0 {
		return ClientData{}, ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return ClientData{}, ErrNameTooLong
	}
	return ClientData{Name: name, Version: version}, nil
}

// ShortName is used where only three characters fit.
func (c ClientData) ShortName() string {
	r := []rune(c.Name)
	if len(r) == 0 {
		return "???"
	}
	if len(r) > 3 {
		r = r[:3]
	}
	return string(r)
}
