package auth

import (
	"github.com/labstack/echo/v4"
)

// LoginPath is the only API route reachable without a session.
const LoginPath = "/api/v1/login"

// publicPaths bypass the session check: infrastructure endpoints and login.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
	LoginPath:    true,
}

// AuthSkipper reports whether the matched route is public.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
