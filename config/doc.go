// Package config assembles engine settings with koanf.
//
// Settings are layered: Default values first, then an optional YAML file,
// then environment variables prefixed with TENANTRAG_. A variable's first
// underscore after the prefix separates the section from the field, so
// TENANTRAG_QUERY_TOP_K sets query.top_k.
package config
