// Package steps groups the built-in step handlers, one subpackage per step type.
package steps
