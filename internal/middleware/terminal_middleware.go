// internal/middleware/terminal_middleware.go
package middleware

import (
	"context"
	"errors"
	"net/http"

	"engage-service/internal/domain/terminal"
	xerrors "engage-service/internal/pkg/errors"
	"engage-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// Identifying headers sent by the mobile SDK.
const (
	HeaderHardwareID = "X-Hardware-Id"
	HeaderAppBundle  = "X-App-Bundle"
	HeaderPlatform   = "X-Platform"
	HeaderCity       = "X-City"
)

const terminalKey = "terminal"

type TerminalToucher interface {
	Touch(ctx context.Context, id terminal.Identity) (*terminal.Terminal, error)
}

type TerminalMiddleware struct {
	terminals TerminalToucher
}

func NewTerminalMiddleware(terminals TerminalToucher) *TerminalMiddleware {
	return &TerminalMiddleware{terminals: terminals}
}

// TerminalContext resolves the calling terminal from its headers, creating it
// on first contact, and stores it in the gin context.
func (m *TerminalMiddleware) TerminalContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := terminal.Identity{
			HardwareID: c.GetHeader(HeaderHardwareID),
			AppBundle:  c.GetHeader(HeaderAppBundle),
			Platform:   terminal.ParsePlatform(c.GetHeader(HeaderPlatform)),
			City:       c.GetHeader(HeaderCity),
		}

		t, err := m.terminals.Touch(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, xerrors.ErrInvalidInput) {
				response.ValidationError(c, "missing terminal identification headers", err)
				return
			}
			response.Error(c, http.StatusInternalServerError, "failed to resolve terminal", nil)
			return
		}

		c.Set(terminalKey, t)
		c.Next()
	}
}
