//go:build debug

package debug

import (
	"fmt"
	"os"
)

func ON() bool { return true }

func Assert(cond bool, args ...any) {
	if !cond {
		fail(fmt.Sprint(args...))
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		fail(fmt.Sprintf(format, args...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		fail(err.Error())
	}
}

func AssertFunc(f func() bool, args ...any) {
	if !f() {
		fail(fmt.Sprint(args...))
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "assertion failed:", msg)
	panic(msg)
}
