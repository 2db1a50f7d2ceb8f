package label

import (
	"errors"
	"regexp"
)

// TargetName corresponds to the name of an addressable and/or buildable
// target within a package.
type TargetName struct {
	value string
}

const (
	// Components of package and target names may contain all
	// printable characters, except forward slash and colon.
	validNameCharacterPattern       = `[^[:cntrl:]/:]`
	validNameNonDotCharacterPattern = `[^[:cntrl:]./:]`

	// Name components may not consist solely of dots, so that "."
	// and ".." never occur as path components of an output path.
	validNameComponentPattern = validNameCharacterPattern + `*` +
		validNameNonDotCharacterPattern +
		validNameCharacterPattern + `*`
	validTargetNamePattern = validNameComponentPattern + `(/` + validNameComponentPattern + `)*`
)

var validTargetNameRegexp = regexp.MustCompile("^" + validTargetNamePattern + "$")

var invalidTargetNamePattern = errors.New("target name must match " + validTargetNamePattern)

func NewTargetName(value string) (TargetName, error) {
	if !validTargetNameRegexp.MatchString(value) {
		return TargetName{}, invalidTargetNamePattern
	}
	return TargetName{value: value}, nil
}

func MustNewTargetName(value string) TargetName {
	targetName, err := NewTargetName(value)
	if err != nil {
		panic(err)
	}
	return targetName
}

func (tn TargetName) String() string {
	return tn.value
}
