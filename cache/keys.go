package cache

import (
	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// Key builders for the namespaces shared with other services. Formats
// are part of the wire contract and must not change between releases.

func SessionKey(sessionID string) string {
	return "session:" + sessionID
}

func RateLimitKey(identifier string) string {
	return "ratelimit:" + identifier
}

func APIKeyKey(key string) string {
	return "apikey:" + key
}

func UserAPIKeysKey(userID string) string {
	return "user:" + userID + ":apikeys"
}

func LockKey(name string) string {
	return "lock:" + name
}

func TagKey(tag string) string {
	return "tag:" + tag
}

func EntityKey(entityType, entityID string) string {
	return entityType + ":" + entityID
}

// EntityListKey derives a stable key for a filtered listing from its
// serialized query parameters.
func EntityListKey(entityType string, query interface{}) (string, error) {
	serialized, err := utils.MarshalToString(query)
	if err != nil {
		return "", types.WrapError(err, "failed to serialize list query")
	}
	return entityType + ":list:" + serialized, nil
}

func freshMarkerKey(key string) string {
	return key + ":fresh"
}

func refreshGuardKey(key string) string {
	return key + ":refresh"
}
