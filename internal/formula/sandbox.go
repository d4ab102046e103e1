package formula

import (
	lua "github.com/yuin/gopher-lua"
)

// formulaLibs are the only standard libraries a formula can use. os, io,
// package and debug are never opened.
var formulaLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// loaderGlobals are base functions that load code from files or strings.
var loaderGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module"}

// newSandboxedVM returns a VM that can evaluate formula tables but cannot
// run commands, touch files or load further code.
func newSandboxedVM() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range formulaLibs {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range loaderGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}
