// internal/middleware/helpers.go
package middleware

import (
	"engage-service/internal/domain/terminal"

	"github.com/gin-gonic/gin"
)

// GetTerminal gets the terminal resolved by TerminalContext
func GetTerminal(c *gin.Context) (*terminal.Terminal, bool) {
	v, exists := c.Get(terminalKey)
	if !exists {
		return nil, false
	}
	t, ok := v.(*terminal.Terminal)
	return t, ok
}

// MustGetTerminal gets the terminal from context or panics
func MustGetTerminal(c *gin.Context) *terminal.Terminal {
	t, ok := GetTerminal(c)
	if !ok {
		panic("terminal not found in context")
	}
	return t
}
