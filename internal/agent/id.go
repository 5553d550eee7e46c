// Package agent defines agent identity and the durable per-agent store:
// state.json, runtime.json, health.json under agents/<id>/.
package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/parishlabs/parish/internal/constants"
	"github.com/parishlabs/parish/internal/util"
)

// ErrNotASpecialist is returned when a specialist operation is applied to a
// work-agent id.
var ErrNotASpecialist = errors.New("not a specialist agent")

// IDForIssue derives the canonical work-agent id for an issue ref.
// The id is both the directory name under agents/ and the tmux session name.
func IDForIssue(issueRef string) string {
	return constants.AgentPrefix + util.Slug(issueRef)
}

// IDForSpecialist derives the canonical specialist id for a role.
func IDForSpecialist(role string) string {
	return constants.SpecialistPrefix + role
}

// IsSpecialist reports whether an id names a specialist session.
func IsSpecialist(id string) bool {
	return strings.HasPrefix(id, constants.SpecialistPrefix)
}

// SpecialistRole extracts the role from a specialist id.
func SpecialistRole(id string) (string, error) {
	if !IsSpecialist(id) {
		return "", fmt.Errorf("%w: %s", ErrNotASpecialist, id)
	}
	role := strings.TrimPrefix(id, constants.SpecialistPrefix)
	for _, known := range constants.SpecialistRoles {
		if role == known {
			return role, nil
		}
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrNotASpecialist, role)
}
