// Package config implements the ConfigLoader: scanning a project root for
// YAML declaration documents, honouring ignore patterns and remote-source
// checkouts, and producing one Project record plus any number of Module
// records — then (resolve.go) evaluating every template expression in the
// declarations against the layered ConfigContext to yield fully-resolved
// modules.
//
// Parsing uses gopkg.in/yaml.v3 with struct-tag validation via
// github.com/go-playground/validator/v10 after unmarshalling.
package config
