//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"fmt"
	"os"
	"os/user"

	"github.com/google/uuid"
)

// nodeSuffixLength is how many characters of a random UUID end a node ID.
const nodeSuffixLength = 8

// DetectNodeID builds an identity like "alice@kitchen-1f3a9c2e" for heartbeat
// payloads. The random suffix keeps two nodes of one user on one machine apart.
func DetectNodeID() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("current user: %w", err)
	}

	return fmt.Sprintf("%s@%s-%s", currentUser.Username, hostname, uuid.NewString()[:nodeSuffixLength]), nil
}
