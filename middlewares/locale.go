package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/repogenesis/qrcheckin/utils"
	"golang.org/x/text/language"
)

var supportedLocales = language.NewMatcher([]language.Tag{language.English})

// LocaleMiddleware picks the response language from Accept-Language or ?lang=.
func LocaleMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		accept := c.GetHeader("Accept-Language")
		if lang := c.Query("lang"); lang != "" {
			accept = lang
		}
		if accept != "" {
			tags, _, err := language.ParseAcceptLanguage(accept)
			if err == nil && len(tags) > 0 {
				tag, _, _ := supportedLocales.Match(tags...)
				base, _ := tag.Base()
				c.Request = c.Request.WithContext(utils.SetLocaleInContext(c.Request.Context(), base.String()))
			}
		}
		c.Next()
	}
}
