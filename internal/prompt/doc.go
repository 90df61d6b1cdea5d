// Package prompt renders the generator prompts: single-mechanism mutation,
// wildcard exploration, retry after a rejected candidate, and policy
// evolution. Templates are embedded and executed with text/template.
package prompt
