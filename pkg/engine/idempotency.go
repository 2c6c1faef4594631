package engine

import "strings"

// keySeparator joins the components of an idempotency key.
const keySeparator = ":"

var keyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// MakeIdempotencyKey derives the idempotency key of a resource in a plan.
//
// Components are joined as tenant:planHash:resourceKey. Percent signs and
// colons inside a component are percent-encoded, so distinct triples never
// produce the same key. Components without those characters appear verbatim.
func MakeIdempotencyKey(tenantID, planHash, resourceKey string) string {
	return keyEscaper.Replace(tenantID) + keySeparator +
		keyEscaper.Replace(planHash) + keySeparator +
		keyEscaper.Replace(resourceKey)
}

// ResourceKey returns the blueprint-scoped key of a resource: cf_<field key>,
// tag_<tag name> or pipe_<pipeline name>.
func ResourceKey(kind ResourceKind, name string) string {
	return kind.KeyPrefix() + name
}

// KeySuffix returns the last n characters of an idempotency key.
func KeySuffix(key string, n int) string {
	runes := []rune(key)
	if len(runes) <= n {
		return key
	}
	return string(runes[len(runes)-n:])
}
