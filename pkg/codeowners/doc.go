// Package codeowners parses "CODEOWNERS" files, and resolves the owners of
// file paths according to them.
//
// Patterns follow gitignore semantics, and the last matching line in the
// file wins, regardless of how specific other matching patterns are. See
// https://docs.github.com/en/repositories/managing-your-repositorys-settings-and-features/customizing-your-repository/about-code-owners
package codeowners
