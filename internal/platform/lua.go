package platform

import (
	lua "github.com/yuin/gopher-lua"
)

// InjectPlatformTable injects a read-only global "platform" table describing
// info. Call it before running formula code.
func InjectPlatformTable(L *lua.LState, info *Info) error {
	platformTable := L.NewTable()

	L.SetField(platformTable, "os", lua.LString(info.OS))
	L.SetField(platformTable, "arch", lua.LString(info.Arch))
	L.SetField(platformTable, "arch_raw", lua.LString(info.ArchRaw))
	L.SetField(platformTable, "is_linux", lua.LBool(info.IsLinux()))
	L.SetField(platformTable, "is_macos", lua.LBool(info.IsMacOS()))

	if info.IsLinux() && info.Platform != "" {
		distroTable := L.NewTable()
		L.SetField(distroTable, "id", lua.LString(info.Platform))
		L.SetField(distroTable, "family", lua.LString(info.Family))
		L.SetField(distroTable, "version", lua.LString(info.Version))
		L.SetField(platformTable, "distro", MakeReadOnly(L, distroTable, "platform.distro"))
	} else {
		L.SetField(platformTable, "distro", lua.LNil)
	}

	flagsTable := L.NewTable()
	for _, f := range info.CPUFlags {
		flagsTable.Append(lua.LString(f))
	}
	L.SetField(platformTable, "cpu_flags", MakeReadOnly(L, flagsTable, "platform.cpu_flags"))

	// has_flag(name) -> bool
	L.SetField(platformTable, "has_flag", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(info.HasFlag(L.CheckString(1))))
		return 1
	}))

	// when(condition, value) -> value or nil
	L.SetField(platformTable, "when", L.NewFunction(func(L *lua.LState) int {
		if L.CheckBool(1) {
			L.Push(L.Get(2))
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))

	L.SetGlobal("platform", MakeReadOnly(L, platformTable, "platform"))
	return nil
}

// MakeReadOnly returns a proxy table that reads through to table and raises a
// Lua error on any write.
func MakeReadOnly(L *lua.LState, table *lua.LTable, name string) *lua.LTable {
	mt := L.NewTable()
	L.SetField(mt, "__index", table)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("%s table is read-only and cannot be modified", name)
		return 0
	}))
	L.SetField(mt, "__len", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(table.Len()))
		return 1
	}))
	L.SetField(mt, "__metatable", lua.LString("protected"))

	proxy := L.NewTable()
	L.SetMetatable(proxy, mt)
	return proxy
}
