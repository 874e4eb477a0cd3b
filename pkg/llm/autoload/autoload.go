// Package autoload registers all built-in model providers via their
// package init functions. Import it for side effects only.
package autoload

import (
	_ "foreman/pkg/llm/gemini"
	_ "foreman/pkg/llm/ollama"
	_ "foreman/pkg/llm/openaillm"
)
