// Package platform selects the literal default paths chefctl uses on
// Windows-like hosts versus POSIX hosts.
package platform

import "runtime"

// Platform describes the host chefctl runs on.
type Platform struct {
	GOOS    string
	Windows bool
}

// Detect returns the platform of the running process.
func Detect() Platform {
	return ForGOOS(runtime.GOOS)
}

// ForGOOS builds a Platform for the given GOOS value.
func ForGOOS(goos string) Platform {
	return Platform{GOOS: goos, Windows: goos == "windows"}
}

// Paths holds every default that depends on the platform.
type Paths struct {
	ClientRoot     string
	ConfigFile     string
	LockFile       string
	LogDir         string
	FileCachePath  string
	ChefConfigDir  string
	ChefRepo       string
	SearchPath     []string
	// ClientBinary has no extension on Windows either; exec resolves the
	// .bat/.exe shim through PATHEXT.
	ClientBinary   string
	ClientRBConfig string
}

// Defaults returns the platform's default paths. All paths use forward
// slashes, which the Windows file APIs accept.
func Defaults(p Platform) Paths {
	if p.Windows {
		return Paths{
			ClientRoot:     "C:/opscode/chef",
			ConfigFile:     "C:/chef/chefctl-config.yaml",
			LockFile:       "C:/chef/chefctl.lock",
			LogDir:         "C:/chef/outputs",
			FileCachePath:  "C:/chef/cache",
			ChefConfigDir:  "C:/chef",
			ChefRepo:       "C:/chef/repo",
			SearchPath:     []string{"C:/Windows/System32"},
			ClientBinary:   "chef-client",
			ClientRBConfig: "C:/chef/client.rb",
		}
	}
	return Paths{
		ClientRoot:     "/opt/chef",
		ConfigFile:     "/etc/chefctl-config.yaml",
		LockFile:       "/var/lock/subsys/chefctl",
		LogDir:         "/var/chef/outputs",
		FileCachePath:  "/var/cache/chef",
		ChefConfigDir:  "/etc/chef",
		ChefRepo:       "/etc/chef/repo",
		SearchPath:     []string{"/usr/sbin", "/usr/bin"},
		ClientBinary:   "chef-client",
		ClientRBConfig: "/etc/chef/client.rb",
	}
}

// PathListSeparator is the separator used when joining SearchPath into PATH.
func (p Platform) PathListSeparator() string {
	if p.Windows {
		return ";"
	}
	return ":"
}
