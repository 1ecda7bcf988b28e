//go:build !pddebug

package pd

import "fmt"

// contractViolation reports use of an invalidated library. Release builds
// return an error; builds tagged pddebug panic instead.
func contractViolation(op string) error {
	return fmt.Errorf("%s: %w", op, ErrInvalidated)
}
