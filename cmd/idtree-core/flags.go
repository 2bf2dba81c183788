package main

import (
	"flag"
	"strconv"
)

// flagSet wraps flag.FlagSet with a Uint64Var helper.
type flagSet struct {
	*flag.FlagSet
}

func newFlagSet(name string) *flagSet {
	return &flagSet{FlagSet: flag.NewFlagSet(name, flag.ContinueOnError)}
}

type uint64Value uint64

func (v *uint64Value) String() string {
	return strconv.FormatUint(uint64(*v), 10)
}

func (v *uint64Value) Set(s string) error {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*v = uint64Value(n)
	return nil
}

// Uint64Var defines a uint64 flag with the given name, default value and
// usage string. The argument p points to a uint64 variable in which to
// store the value of the flag.
func (f *flagSet) Uint64Var(p *uint64, name string, value uint64, usage string) {
	*p = value
	f.Var((*uint64Value)(p), name, usage)
}
