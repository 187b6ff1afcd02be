package httpgin

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// cachePolicy describes how a public read may be cached by clients.
type cachePolicy struct {
	MaxAge time.Duration
	Weak   bool
}

var (
	eventCachePolicy        = cachePolicy{MaxAge: 60 * time.Second, Weak: true}
	availabilityCachePolicy = cachePolicy{MaxAge: 15 * time.Second, Weak: true}
)

func (p cachePolicy) header() string {
	return "public, max-age=" + strconv.Itoa(int(p.MaxAge.Seconds()))
}

// writeCachedJSON writes v with an ETag derived from its encoding and
// answers 304 when the client already holds that representation.
func writeCachedJSON(c *gin.Context, status int, v any, p cachePolicy) {
	b, err := json.Marshal(v)
	if err != nil {
		_ = c.Error(err)
		c.Status(http.StatusInternalServerError)
		return
	}

	tag := entityTag(b, p.Weak)
	c.Header("ETag", tag)
	c.Header("Cache-Control", p.header())

	if etagMatches(c.GetHeader("If-None-Match"), tag) {
		c.Status(http.StatusNotModified)
		return
	}

	c.Data(status, "application/json; charset=utf-8", b)
}

func entityTag(body []byte, weak bool) string {
	sum := sha256.Sum256(body)
	tag := `"` + hex.EncodeToString(sum[:16]) + `"`
	if weak {
		return "W/" + tag
	}
	return tag
}

// etagMatches applies the weak comparison used for If-None-Match: the
// header may list several tags or be "*".
func etagMatches(header, tag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}

	want := strings.TrimPrefix(tag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == want {
			return true
		}
	}
	return false
}
