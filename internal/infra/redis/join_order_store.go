package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// appendJoinerScript checks membership and capacity and appends in one step.
// It returns {position, appended}.
var appendJoinerScript = redis.NewScript(`
local list = redis.call('LRANGE', KEYS[1], 0, -1)
for i, id in ipairs(list) do
  if id == ARGV[1] then
    return {i - 1, 0}
  end
end
if #list >= tonumber(ARGV[2]) then
  return {#list, 0}
end
redis.call('RPUSH', KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return {#list, 1}
`)

// JoinOrderStore keeps the join list of each access code in a Redis list.
type JoinOrderStore struct {
	client *redis.Client
}

func NewJoinOrderStore(client *redis.Client) *JoinOrderStore {
	return &JoinOrderStore{client: client}
}

func (s *JoinOrderStore) AppendJoiner(ctx context.Context, accessCode, userID string, capacity int, ttl time.Duration) (int, bool, error) {
	res, err := appendJoinerScript.Run(ctx, s.client, []string{joinOrderKey(accessCode)}, userID, capacity, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, transient(err)
	}
	if len(res) != 2 {
		return 0, false, errors.New("unexpected join order script reply")
	}
	return int(res[0]), res[1] == 1, nil
}

func (s *JoinOrderStore) JoinOrder(ctx context.Context, accessCode string) ([]string, error) {
	list, err := s.client.LRange(ctx, joinOrderKey(accessCode), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, transient(err)
	}
	return list, nil
}
