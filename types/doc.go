// Package types provides core types used across the toolflow engine.
// This package has ZERO dependencies on other toolflow packages to avoid
// circular imports. All other packages should import types from here.
package types
