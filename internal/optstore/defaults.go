package optstore

// Log level values, mirroring the original driver's WNBD_LVL_* scale
// (spec §4.8 default LogLevel option).
const (
	LogLevelError int64 = 1
	LogLevelWarn  int64 = 2
	LogLevelInfo  int64 = 3
	LogLevelDebug int64 = 4
)

// Well-known option names.
const (
	OptLogLevel           = "LogLevel"
	OptNewMappingsAllowed = "NewMappingsAllowed"
	OptDbgPrintEnabled    = "DbgPrintEnabled"
	OptDefaultExportName  = "DefaultExportName"
)

// DefaultDefinitions is the compiled option table (spec §4.8): each entry
// carries a compile-time default that Reset restores.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Name: OptLogLevel, Type: TypeInt64, Default: Value{Type: TypeInt64, Int64: LogLevelWarn}},
		{Name: OptNewMappingsAllowed, Type: TypeBool, Default: Value{Type: TypeBool, Bool: true}},
		{Name: OptDbgPrintEnabled, Type: TypeBool, Default: Value{Type: TypeBool, Bool: true}},
		{Name: OptDefaultExportName, Type: TypeString, Default: Value{Type: TypeString, Str: ""}},
	}
}
