// Package config defines the format-agnostic model of a build description,
// along with the core interfaces (Loader, Converter) for loading it and for
// evaluating the expressions it carries.
//
// The `config.Model` is the single source of truth for the `declare`
// package, which turns it into module definitions. Concrete implementations
// of the interfaces, such as for HCL, are provided in separate packages.
package config
