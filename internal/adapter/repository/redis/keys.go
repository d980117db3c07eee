package redis

import "fmt"

const keyPrefix = "dispatch"

// playerKey is the hash holding one player's snapshot.
func playerKey(placeID, playerID string) string {
	return fmt.Sprintf("%s:player:%s:%s", keyPrefix, placeID, playerID)
}

// playerIndexKey is the sorted set of a tenant's player ids scored by last-seen millis.
func playerIndexKey(placeID string) string {
	return fmt.Sprintf("%s:players:%s", keyPrefix, placeID)
}

// placeStreamKey is the per-tenant activity stream alongside the global one.
func placeStreamKey(stream, placeID string) string {
	return fmt.Sprintf("%s:%s", stream, placeID)
}
