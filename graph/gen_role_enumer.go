// Code generated by "enumer -type=Role -trimprefix=Role -output=gen_role_enumer.go role.go"; DO NOT EDIT.

package graph

import (
	"fmt"
	"strings"
)

const _RoleName = "InputConstantSharedDerived"

var _RoleIndex = [...]uint8{0, 5, 13, 19, 26}

const _RoleLowerName = "inputconstantsharedderived"

func (i Role) String() string {
	if i < 0 || i >= Role(len(_RoleIndex)-1) {
		return fmt.Sprintf("Role(%d)", i)
	}
	return _RoleName[_RoleIndex[i]:_RoleIndex[i+1]]
}

// An "invalid array index" compiler error signifies that the constant values have changed.
// Re-run the stringer command to generate them again.
func _RoleNoOp() {
	var x [1]struct{}
	_ = x[RoleInput-(0)]
	_ = x[RoleConstant-(1)]
	_ = x[RoleShared-(2)]
	_ = x[RoleDerived-(3)]
}

var _RoleValues = []Role{RoleInput, RoleConstant, RoleShared, RoleDerived}

var _RoleNameToValueMap = map[string]Role{
	_RoleName[0:5]:        RoleInput,
	_RoleLowerName[0:5]:   RoleInput,
	_RoleName[5:13]:       RoleConstant,
	_RoleLowerName[5:13]:  RoleConstant,
	_RoleName[13:19]:      RoleShared,
	_RoleLowerName[13:19]: RoleShared,
	_RoleName[19:26]:      RoleDerived,
	_RoleLowerName[19:26]: RoleDerived,
}

var _RoleNames = []string{
	_RoleName[0:5],
	_RoleName[5:13],
	_RoleName[13:19],
	_RoleName[19:26],
}

// RoleString retrieves an enum value from the enum constants string name.
// Throws an error if the param is not part of the enum.
func RoleString(s string) (Role, error) {
	if val, ok := _RoleNameToValueMap[s]; ok {
		return val, nil
	}

	if val, ok := _RoleNameToValueMap[strings.ToLower(s)]; ok {
		return val, nil
	}
	return 0, fmt.Errorf("%s does not belong to Role values", s)
}

// RoleValues returns all values of the enum
func RoleValues() []Role {
	return _RoleValues
}

// RoleStrings returns a slice of all String values of the enum
func RoleStrings() []string {
	strs := make([]string, len(_RoleNames))
	copy(strs, _RoleNames)
	return strs
}

// IsARole returns "true" if the value is listed in the enum definition. "false" otherwise
func (i Role) IsARole() bool {
	for _, v := range _RoleValues {
		if i == v {
			return true
		}
	}
	return false
}
