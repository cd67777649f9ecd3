// Package config loads the declarative object inventory and policy
// documents from disk.
//
// Documents are YAML files with the apiVersion/kind/metadata/spec
// envelope. A file may hold several documents separated by "---". The
// loader validates each raw document against a CUE schema for its kind,
// then decodes it into the typed model and runs struct validation.
// Malformed documents are collected as ValidationError values instead
// of aborting the walk, so one bad file reports every problem it has.
//
// The loader performs no cross-document resolution; reference and cycle
// checking happens when the registry snapshot is built from the loaded
// bundle.
package config
