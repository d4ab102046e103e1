package formula

// Lua schema field names and globals
const (
	luaGlobalFormula = "formula"
	luaGlobalVars    = "vars"
	luaFieldName     = "name"
	luaFieldDesc     = "desc"
	luaFieldHomepage = "homepage"
	luaFieldURL      = "url"
	luaFieldSHA256   = "sha256"
	luaFieldVersion  = "version"
	luaFieldLicense  = "license"
	luaFieldSig      = "signature"
	luaFieldInstall  = "install"
	luaFieldBin      = "bin"
	luaFieldLib      = "lib"
	luaFieldTest     = "test"
	luaFieldCommand  = "command"
	luaFieldArgs     = "args"
	luaFieldExpect   = "expect"
)
