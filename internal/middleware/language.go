package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type languageContextKey struct{}

// Language stores the caller's preferred language tag in the request context.
// X-Locale wins over Accept-Language; fallback applies when neither parses.
func Language(fallback string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tag := detectLanguage(r, fallback)
			ctx := context.WithValue(r.Context(), languageContextKey{}, tag)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLanguage(r *http.Request, fallback string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Locale")); v != "" {
		if tag, err := language.Parse(v); err == nil {
			return tag.String()
		}
	}
	if v := r.Header.Get("Accept-Language"); v != "" {
		tags, _, err := language.ParseAcceptLanguage(v)
		if err == nil && len(tags) > 0 && tags[0] != language.Und {
			return tags[0].String()
		}
	}
	return fallback
}

// LanguageFromContext returns the tag stored by Language, or "" when absent.
func LanguageFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(languageContextKey{}).(string); ok {
		return v
	}
	return ""
}
