package rewrite

import (
	"bytes"
	"mime"
	"strings"

	"github.com/rcourtman/fritzmesh/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html/charset"
)

// Content types whose bodies carry links worth rewriting. Matching is exact.
var sanitizableContentTypes = map[string]bool{
	"text/html; charset=utf-8":             true,
	"text/css":                             true,
	"application/javascript;charset=utf-8": true,
}

// IsSanitizable reports whether contentType is one of the rewritable types.
func IsSanitizable(contentType string) bool {
	return sanitizableContentTypes[contentType]
}

// Rewriter applies the ingress link rewrite and the path specific rules to
// fetched assets. It is stateless and safe for concurrent use.
type Rewriter struct {
	rules RuleSet
}

// New creates a rewriter using rules for path specific patches.
func New(rules RuleSet) *Rewriter {
	if rules == nil {
		rules = RuleSet{}
	}
	return &Rewriter{rules: rules}
}

// Eligible reports whether an asset fetched for requestURI with the given
// content type should be rewritten.
func (r *Rewriter) Eligible(requestURI, contentType string) bool {
	return IsSanitizable(contentType) || r.rules.Has(rulePath(requestURI))
}

// Rewrite returns body with root-relative links replaced by Placeholder and
// the rules for requestURI applied. The result is UTF-8. Patterns that do
// not occur leave the text untouched.
func (r *Rewriter) Rewrite(requestURI, contentType string, body []byte) []byte {
	text := decodeText(contentType, body)

	for _, rule := range ingressLinkRules {
		text = rule.pattern.ReplaceAllLiteralString(text, rule.replacement)
	}
	text = imageMap.ReplaceAllStringFunc(text, func(block string) string {
		return strings.ReplaceAll(block, `:"/`, `:"`+Placeholder)
	})

	path := rulePath(requestURI)
	for i, rule := range r.rules[path] {
		// A firmware update can move the patched code out from under a rule.
		if logging.IsLevelEnabled(zerolog.DebugLevel) && !rule.Outer.MatchString(text) {
			log.Debug().Str("path", path).Int("rule", i).Msg("Rewrite rule found nothing to patch")
		}
		text = rule.Apply(text)
	}

	return []byte(text)
}

// SubstituteIngress resolves every Placeholder in body to prefix + "/".
// An empty prefix yields plain root-relative links.
func SubstituteIngress(body []byte, prefix string) []byte {
	if !bytes.Contains(body, []byte(Placeholder)) {
		return body
	}
	return bytes.ReplaceAll(body, []byte(Placeholder), []byte(prefix+"/"))
}

// rulePath strips the query so cache-busting parameters still hit the rules.
func rulePath(requestURI string) string {
	if i := strings.IndexByte(requestURI, '?'); i >= 0 {
		return requestURI[:i]
	}
	return requestURI
}

func decodeText(contentType string, body []byte) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return string(body)
	}
	label := strings.TrimSpace(params["charset"])
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return string(body)
	}

	enc, name := charset.Lookup(label)
	if enc == nil {
		log.Debug().Str("charset", label).Msg("Unknown charset, rewriting bytes as-is")
		return string(body)
	}

	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		log.Warn().Err(err).Str("charset", name).Msg("Failed to decode asset, rewriting bytes as-is")
		return string(body)
	}
	return string(decoded)
}
