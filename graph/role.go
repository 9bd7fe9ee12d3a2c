package graph

// Role classifies a Variable within a graph.
type Role int8

//go:generate go tool enumer -type=Role -trimprefix=Role -output=gen_role_enumer.go role.go

const (
	// RoleInput is a free root bound to an argument at compile time.
	RoleInput Role = iota
	// RoleConstant is a root owning an immutable value.
	RoleConstant
	// RoleShared is the root of a Shared container (persistent parameter).
	RoleShared
	// RoleDerived is produced by an Apply node.
	RoleDerived
)
