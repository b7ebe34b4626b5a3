package domain

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// VoteKind names a vote. The server sends either a bare tag ("Revanche")
// or a tag with an argument ({"Kick": 2}); Arg keeps the argument verbatim.
type VoteKind struct {
	Name string
	Arg  json.RawMessage
}

func (k VoteKind) String() string {
	if len(k.Arg) == 0 {
		return k.Name
	}
	return fmt.Sprintf("%s(%s)", k.Name, k.Arg)
}

func (k VoteKind) MarshalJSON() ([]byte, error) {
	if len(k.Arg) == 0 {
		return json.Marshal(k.Name)
	}
	return json.Marshal(map[string]json.RawMessage{k.Name: k.Arg})
}

func (k *VoteKind) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*k = VoteKind{Name: name}
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("vote kind: %w", ErrBadPayload)
	}
	if len(obj) != 1 {
		return fmt.Errorf("vote kind with %d keys: %w", len(obj), ErrBadPayload)
	}
	for name, arg := range obj {
		*k = VoteKind{Name: name, Arg: arg}
	}
	return nil
}

var defaultOptions = []string{"Yes", "No"}

// voteOptions lists the options per kind; kinds not listed get defaultOptions.
var voteOptions = map[string][]string{
	"Revanche":  {"Yes", "No"},
	"Kick":      {"Yes", "No"},
	"Teaming":   {"Yes", "No"},
	"StartGame": {"Yes", "No"},
}

// OptionsFor returns a copy of the option names for kind, in display order.
func OptionsFor(kind VoteKind) []string {
	opts, ok := voteOptions[kind.Name]
	if !ok {
		opts = defaultOptions
	}
	return append([]string(nil), opts...)
}
