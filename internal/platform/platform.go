// Package platform resolves the host operating system to the binary
// naming conventions used by the managed language server.
//
// Two conventions exist and must not be conflated: the name probed on
// PATH (the convenience name an installer would place there) and the
// name of the release asset published for the platform. Windows uses a
// single name for both; macOS and Linux publish dedicated assets.
package platform

import "runtime"

// ID identifies the host platform branch.
type ID int

const (
	// Linux is the default branch for every OS that is not Windows or macOS.
	Linux ID = iota
	// MacOS is the darwin branch.
	MacOS
	// Windows is the windows branch.
	Windows
)

// String returns the platform name.
func (id ID) String() string {
	switch id {
	case Windows:
		return "windows"
	case MacOS:
		return "macos"
	case Linux:
		return "linux"
	default:
		return "unknown"
	}
}

// Detect maps the running operating system to a platform ID.
// Anything that is not windows or darwin gets the Linux default;
// there is no fourth branch.
func Detect() ID {
	return detect(runtime.GOOS)
}

func detect(goos string) ID {
	switch goos {
	case "windows":
		return Windows
	case "darwin":
		return MacOS
	default:
		return Linux
	}
}

// Naming describes the binary names for one managed server.
type Naming struct {
	// Base is the bare binary name, e.g. "dws-lsp".
	Base string
}

// DefaultNaming is the naming scheme of the default managed server.
var DefaultNaming = Naming{Base: "dws-lsp"}

// LookupName returns the name probed on PATH for the platform.
func (n Naming) LookupName(id ID) string {
	if id == Windows {
		return n.Base + ".exe"
	}
	return n.Base
}

// AssetName returns the release-asset name for the platform.
// Windows shares its name with the PATH convention; macOS and Linux
// each have a dedicated asset.
func (n Naming) AssetName(id ID) string {
	switch id {
	case Windows:
		return n.Base + ".exe"
	case MacOS:
		return n.Base + "_macos"
	default:
		return n.Base + "_linux"
	}
}
