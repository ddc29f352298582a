package convo

import (
	"errors"
	"fmt"
	"strings"
)

// MinIDPrefix is the shortest request id abbreviation accepted.
const MinIDPrefix = 6

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingArg     = errors.New("missing argument")
	ErrShortID        = fmt.Errorf("request id must be at least %d characters", MinIDPrefix)
	ErrAmbiguousID    = errors.New("request id matches more than one request")
)

type verb string

const (
	verbHelp    verb = "help"
	verbPending verb = "pending"
	verbApprove verb = "approve"
	verbReject  verb = "reject"
	verbUser    verb = "user"
)

type command struct {
	Verb verb
	Arg  string
}

// parseCommand reads one admin chat line such as "approve 3f2a9c".
// A leading "/" or "!" is accepted.
func parseCommand(text string) (command, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return command{}, ErrUnknownCommand
	}
	head := strings.ToLower(strings.TrimLeft(fields[0], "/!"))
	arg := ""
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], "")
	}

	switch verb(head) {
	case verbHelp, verbPending:
		return command{Verb: verb(head)}, nil
	case verbApprove, verbReject, verbUser:
		if arg == "" {
			return command{}, fmt.Errorf("%s: %w", head, ErrMissingArg)
		}
		return command{Verb: verb(head), Arg: arg}, nil
	}
	return command{}, fmt.Errorf("%q: %w", head, ErrUnknownCommand)
}

// matchID resolves an exact id or a unique prefix of at least MinIDPrefix
// characters against ids.
func matchID(ids []string, prefix string) (string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	for _, id := range ids {
		if strings.ToLower(id) == prefix {
			return id, nil
		}
	}
	if len(prefix) < MinIDPrefix {
		return "", ErrShortID
	}
	var found []string
	for _, id := range ids {
		if strings.HasPrefix(strings.ToLower(id), prefix) {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 0:
		return "", nil
	case 1:
		return found[0], nil
	}
	return "", ErrAmbiguousID
}

const helpText = `Admin commands:
- pending: list pending requests
- approve <id>: approve a request
- reject <id>: reject a request
- user <phone>: show a user's balances
Request ids may be shortened to their first 6 characters.`
