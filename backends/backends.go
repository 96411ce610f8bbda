// Package backends defines the interface between the fusion-definition frontend (package
// fuser) and the systems that compile and execute the definitions.
//
// Two backends are provided: "xla" (backends/xla) hands the whole definition to the XLA
// compiler through PJRT plugins, which fuses it into a single program; "go"
// (backends/simplego) interprets the definition op-by-op in pure Go, and serves as the
// eager baseline for benchmarks and as a portable reference executor for tests.
//
// To simplify error handling in graph-building code, builder methods return errors, but
// the registry and constructors throw (panic) with a stack trace in case of errors.
// See package github.com/gomlx/exceptions.
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"
)

// DeviceNum represents which device holds a buffer, or should execute a computation.
// It's up to the backend to interpret it, but it should be between 0 and Backend.NumDevices.
type DeviceNum int

// Backend is the API that a compiler/executor needs to implement to run fusion
// definitions.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "xla" for the XLA/PJRT plugin.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// NumDevices returns the number of devices available for this Backend.
	NumDevices() DeviceNum

	// Builder creates a new builder used to define a new named computation.
	Builder(name string) Builder

	// DataInterface is the sub-interface that defines the API to transfer Buffer to/from
	// the backend's devices.
	DataInterface

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) Backend

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a
// configuration string that is passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the backend configuration to use if the environment variable is not
// set. See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// FUSIONBENCH_BACKEND is the environment variable with the default backend configuration
// to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "xla") and
// "<backend_configuration>" is backend specific (e.g.: for the xla backend, it is the
// PJRT plugin name).
const FUSIONBENCH_BACKEND = "FUSIONBENCH_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment FUSIONBENCH_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It panics if no backend was registered.
func New() Backend {
	config, found := os.LookupEnv(FUSIONBENCH_BACKEND)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig creates a backend from a configuration string formatted as
// "<backend_name>:<backend_configuration>".
//
// The "<backend_name>" is the name of a registered backend (e.g.: "xla") and
// "<backend_configuration>" is backend specific (e.g.: for the xla backend, it is the
// PJRT plugin name).
func NewWithConfig(config string) Backend {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends -- maybe import the default ones with import _ "github.com/gomlx/fusionbench/backends/xla" or _ "github.com/gomlx/fusionbench/backends/simplego"?`)
	}
	backendName := firstRegistered
	backendConfig := ""
	if config != "" {
		backendName = config
		if idx := strings.Index(config, ":"); idx != -1 {
			backendName = config[:idx]
			backendConfig = config[idx+1:]
		}
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}

// Registered returns the names of the registered backends, in no particular order.
func Registered() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	return names
}
