package state

import "fmt"

// State is the progress marker for one image or package. The zero value is
// Absent: no marker file exists and no process has started work.
type State int

const (
	Absent State = iota
	Started
	Downloaded
	Pushing
	DownloadFailed
	LoadFailed
	Done
)

// tokens are the plain-text values written to marker files. They match the
// values cooperating processes expect to read, so changing one is a
// protocol change.
var tokens = map[State]string{
	Started:        "started",
	Downloaded:     "downloaded",
	Pushing:        "pushing",
	DownloadFailed: "download failed",
	LoadFailed:     "load failed",
	Done:           "done",
}

// ErrUnknownToken is returned when a marker file holds a value no state
// maps to, typically a marker written by an incompatible version.
type ErrUnknownToken struct {
	Token string
}

func (e *ErrUnknownToken) Error() string {
	return fmt.Sprintf("unknown marker token %q", e.Token)
}

// Parse maps a marker token to its State. The empty token maps to Absent.
func Parse(token string) (State, error) {
	if token == "" {
		return Absent, nil
	}
	for s, t := range tokens {
		if t == token {
			return s, nil
		}
	}
	return Absent, &ErrUnknownToken{Token: token}
}

func (s State) String() string {
	if s == Absent {
		return "absent"
	}
	if t, ok := tokens[s]; ok {
		return t
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Token returns the value persisted in a marker file. Absent has no token;
// it is represented by the marker file not existing.
func (s State) Token() (string, error) {
	t, ok := tokens[s]
	if !ok {
		return "", fmt.Errorf("state %v has no marker token", s)
	}
	return t, nil
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Done
}

// Failed reports whether the state records a failure.
func (s State) Failed() bool {
	return s == DownloadFailed || s == LoadFailed
}
