package label

import (
	"errors"
	"regexp"
	"strings"
)

// Label is the unique identifier of a target: a package path and a
// target name, written as "//pkg/path:name". Labels have no behavior
// beyond identifying a node in the target graph; resolution of label
// strings appearing in build files happens before graph construction.
type Label struct {
	value string
}

const (
	validPackagePathPattern = `(` + validNameComponentPattern + `(/` + validNameComponentPattern + `)*)?`
	validLabelPattern       = `//` + validPackagePathPattern + `(:` + validTargetNamePattern + `)?`
)

var validLabelRegexp = regexp.MustCompile("^" + validLabelPattern + "$")

var invalidLabelPattern = errors.New("label must match " + validLabelPattern)

// normalizeLabel removes the target name from a label if it is
// identical to the last component of the package path (//a/b:b), so
// that equal labels are equal strings.
func normalizeLabel(value string) string {
	if targetNameOffset := strings.IndexByte(value, ':'); targetNameOffset >= 0 {
		targetName := value[targetNameOffset+1:]
		packagePath := value[:targetNameOffset]
		if lastComponentOffset := strings.LastIndexAny(packagePath, "/"); lastComponentOffset >= 0 &&
			packagePath[lastComponentOffset+1:] == targetName &&
			packagePath != "//" {
			return packagePath
		}
	}
	return value
}

// NewLabel validates that a string is a well formed absolute label and
// converts it to its canonical form.
func NewLabel(value string) (Label, error) {
	if !validLabelRegexp.MatchString(value) {
		return Label{}, invalidLabelPattern
	}
	if strings.HasSuffix(value, "//") || value == "//" {
		return Label{}, invalidLabelPattern
	}
	return Label{value: normalizeLabel(value)}, nil
}

func MustNewLabel(value string) Label {
	l, err := NewLabel(value)
	if err != nil {
		panic(err)
	}
	return l
}

func (l Label) String() string {
	return l.value
}

// GetPackagePath returns the path of the package containing the
// target, without the leading "//".
func (l Label) GetPackagePath() string {
	if targetNameOffset := strings.IndexByte(l.value, ':'); targetNameOffset >= 0 {
		return l.value[len("//"):targetNameOffset]
	}
	// Normalized label of shape //a/b, whose target name is equal
	// to the last package path component.
	return l.value[len("//"):]
}

// GetTargetName returns the name of the target within its package.
func (l Label) GetTargetName() TargetName {
	if targetNameOffset := strings.IndexByte(l.value, ':'); targetNameOffset >= 0 {
		return TargetName{value: l.value[targetNameOffset+1:]}
	}
	return TargetName{value: l.value[strings.LastIndexByte(l.value, '/')+1:]}
}

// AppendTargetName returns the label of another target that is
// contained in the same package.
func (l Label) AppendTargetName(targetName TargetName) Label {
	return Label{
		value: normalizeLabel("//" + l.GetPackagePath() + ":" + targetName.String()),
	}
}
