package httpgin

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const principalKey = "principal"

// Principal is the authenticated caller.
type Principal struct {
	PurchaserID string
	Admin       bool
}

// Authenticator validates HS256 bearer tokens issued by the identity
// service. The sub claim is the purchaser id; role "admin" grants the admin
// routes.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &Authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(opts...),
	}
}

func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "No token provided"})
			return
		}

		p, err := a.parse(strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid or expired token"})
			return
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

func (a *Authenticator) parse(raw string) (Principal, error) {
	claims := jwt.MapClaims{}

	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return Principal{}, err
	}

	sub := subject(claims["sub"])
	if sub == "" {
		return Principal{}, jwt.ErrTokenInvalidSubject
	}

	role, _ := claims["role"].(string)

	return Principal{PurchaserID: sub, Admin: role == "admin"}, nil
}

// subject accepts string and numeric sub claims; some issuers put the
// numeric user id there.
func subject(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// RequireAdmin must run after Authenticator.Middleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !principal(c).Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "Forbidden"})
			return
		}
		c.Next()
	}
}

func principal(c *gin.Context) Principal {
	v, _ := c.Get(principalKey)
	p, _ := v.(Principal)
	return p
}
