package enum

import (
	"fmt"
	"strconv"
	"strings"

	"hftcore/pkg/exception"
)

type value interface{ ~uint8 }

func name[E value](e E, names []string) string {
	if int(e) < len(names) && names[e] != "" {
		return names[e]
	}
	return "UNKNOWN(" + strconv.Itoa(int(e)) + ")"
}

func parse[E value](s string, names []string) (E, error) {
	for i, n := range names {
		if n != "" && strings.EqualFold(n, s) {
			return E(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown enum value %q", exception.ErrInvalidArgument, s)
}
