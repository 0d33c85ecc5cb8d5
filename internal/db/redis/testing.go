package redis

import "github.com/redis/rueidis"

// NewStoreForTest wraps a prepared rueidis client, usually
// github.com/redis/rueidis/mock, so repositories can be tested without Redis.
func NewStoreForTest(c rueidis.Client) *Store {
	return &Store{client: c}
}
