// Package autoload registers all built-in channels via their package init
// functions. Import it for side effects only.
package autoload

import (
	_ "foreman/pkg/channels/telegram"
	_ "foreman/pkg/channels/web"
)
