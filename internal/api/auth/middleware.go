package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireAuth validates the bearer token and stores the caller's Principal.
// The access_token query parameter is accepted as well because browser
// EventSource clients cannot set headers.
func RequireAuth(tokens *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString, err := extractToken(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			claims, err := tokens.Validate(tokenString)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			c.Set(string(PrincipalContextKey), &Principal{UserID: claims.Subject, Role: claims.Role})
			return next(c)
		}
	}
}

func extractToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		if q := strings.TrimSpace(c.QueryParam("access_token")); q != "" {
			return q, nil
		}
		return "", ErrMissingToken
	}

	tokenParts := strings.Split(authHeader, " ")
	if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
		return "", ErrMalformedHeader
	}
	return tokenParts[1], nil
}
