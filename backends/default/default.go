// Package _default registers every in-tree backend, so one import readies
// backends.New and compile.NewFunction:
//
//	import _ "github.com/symtensor/symtensor/backends/default"
//
// It brings in vecgo and the purego reference interpreter; absent an explicit
// name or SYMTENSOR_BACKEND, backends.New then picks vecgo.
package _default

import (
	_ "github.com/symtensor/symtensor/backends/purego"
	_ "github.com/symtensor/symtensor/backends/vecgo"
)
