// Package scope resolves which backing file a shelf lives in. A shelf is
// shared at one of three levels: everything a designer runs on this
// machine, one experiment, or one participant. Resolution is a pure
// function of the scope and its options; no state is kept here.
package scope

import (
	"fmt"
	"os"
	"path/filepath"
)

// Scope identifies how widely a shelf file is shared.
type Scope int

const (
	// Designer scope: one shelf per user profile, visible to every
	// experiment run on this machine.
	Designer Scope = iota
	// Experiment scope: one shelf stored alongside the experiment.
	Experiment
	// Participant scope: one shelf per participant ID, stored under the
	// user profile.
	Participant
)

func (s Scope) String() string {
	switch s {
	case Designer:
		return "designer"
	case Experiment:
		return "experiment"
	case Participant:
		return "participant"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// aliases maps every accepted spelling onto its canonical scope.
var aliases = map[string]Scope{
	"designer": Designer, "d": Designer, "des": Designer, "user": Designer,
	"experiment": Experiment, "e": Experiment, "exp": Experiment, "project": Experiment,
	"participant": Participant, "p": Participant, "par": Participant, "subject": Participant,
}

// FromAlias returns the scope named by alias, e.g. Experiment for "exp".
func FromAlias(alias string) (Scope, error) {
	s, ok := aliases[alias]
	if !ok {
		return 0, fmt.Errorf("unknown shelf scope %q", alias)
	}
	return s, nil
}

// Options carries the inputs scope resolution may need. Only the fields the
// chosen scope requires are consulted.
type Options struct {
	// UserDir is the per-user profile directory holding designer and
	// participant shelves.
	UserDir string
	// ExperimentPath locates the experiment for Experiment scope. A path
	// to the experiment file is accepted and collapsed to its directory.
	ExperimentPath string
	// Participant is the participant ID for Participant scope.
	Participant string
}

// Resolve returns the shelf file path for the given scope.
//   - Designer: <UserDir>/shelf.json
//   - Experiment: <experiment dir>/shelf.json
//   - Participant: <UserDir>/shelf/<participant>.json
func Resolve(s Scope, opts Options) (string, error) {
	switch s {
	case Designer:
		if opts.UserDir == "" {
			return "", fmt.Errorf("cannot resolve designer-scope shelf without a user directory")
		}
		return filepath.Join(opts.UserDir, "shelf.json"), nil

	case Experiment:
		if opts.ExperimentPath == "" {
			return "", fmt.Errorf("cannot resolve experiment-scope shelf without the experiment's origin path")
		}
		dir := opts.ExperimentPath
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			// Given an experiment file rather than its folder.
			dir = filepath.Dir(dir)
		}
		return filepath.Join(dir, "shelf.json"), nil

	case Participant:
		if opts.Participant == "" {
			return "", fmt.Errorf("cannot resolve participant-scope shelf without a participant ID")
		}
		if opts.UserDir == "" {
			return "", fmt.Errorf("cannot resolve participant-scope shelf without a user directory")
		}
		return filepath.Join(opts.UserDir, "shelf", opts.Participant+".json"), nil

	default:
		return "", fmt.Errorf("unknown shelf scope %q", s)
	}
}
