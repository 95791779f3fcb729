package domain

import (
	lua "github.com/yuin/gopher-lua"
)

// installSandbox restricts a privileged state.
//
// Privileged domains hold foundational runtime code; plugin code must not be
// resolvable from inside them. Script-level code loading is removed so the
// only way new behavior enters the domain is the host's raw injection of
// compiled chunks.
func installSandbox(L *lua.LState) {
	// Remove functions that could load arbitrary code at run time.
	dangerousFuncs := []string{
		"dofile",
		"loadfile",
		"load",
		"loadstring",
	}
	for _, name := range dangerousFuncs {
		L.SetGlobal(name, lua.LNil)
	}

	// Clear package.path/cpath so nothing can be required from disk even
	// if the package library is opened later.
	pkg := L.GetGlobal("package")
	if pkgTable, ok := pkg.(*lua.LTable); ok {
		L.SetField(pkgTable, "path", lua.LString(""))
		L.SetField(pkgTable, "cpath", lua.LString(""))
	}
}
