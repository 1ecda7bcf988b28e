//go:build pddebug

package pd

import "fmt"

func contractViolation(op string) error {
	panic(fmt.Sprintf("pd: %s called on an invalidated library", op))
}
