package vault

import (
	"fmt"
	"regexp"
)

const maxIDLength = 255

var idRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._@-]*$`)

func validateID(id, what string) error {
	if id == "" {
		return fmt.Errorf("%s must not be empty", what)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s exceeds %d characters", what, maxIDLength)
	}
	if !idRE.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", what)
	}
	return nil
}
