package redis

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/itemrec/internal/db"
)

// ZRange returns members of a sorted set by ascending score, stop inclusive.
// stop = -1 reads to the end. A missing set yields an empty slice.
func (s *Store) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	cmd := s.b().Zrange().Key(key).Min(fmt.Sprint(start)).Max(fmt.Sprint(stop)).Build()
	members, err := s.do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, &db.Error{Op: db.OpZRange, Err: err}
	}
	return members, nil
}

// ZMemberMulti checks member against several sorted sets in one round-trip.
func (s *Store) ZMemberMulti(ctx context.Context, keys []string, member string) ([]bool, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]rueidis.Completed, len(keys))
	for i, key := range keys {
		cmds[i] = s.b().Zscore().Key(key).Member(member).Build()
	}

	results := s.client.DoMulti(ctx, cmds...)
	out := make([]bool, len(results))
	for i, res := range results {
		_, err := res.AsFloat64()
		switch {
		case rueidis.IsRedisNil(err):
		case err != nil:
			return nil, &db.Error{Op: db.OpZScore, Err: fmt.Errorf("key %s: %w", keys[i], err)}
		default:
			out[i] = true
		}
	}
	return out, nil
}

// ReplaceSortedSets overwrites several sorted sets in one pipelined round-trip
// (DEL + ZADD per key). Member i is stored with score i+1; items without members
// are only deleted.
func (s *Store) ReplaceSortedSets(ctx context.Context, items []db.SortedSetItem) error {
	if len(items) == 0 {
		return nil
	}

	cmds := make([]rueidis.Completed, 0, 2*len(items))
	owners := make([]string, 0, 2*len(items))
	for _, item := range items {
		cmds = append(cmds, s.b().Del().Key(item.Key).Build())
		owners = append(owners, item.Key)
		if len(item.Members) > 0 {
			cmd := s.b().Zadd().Key(item.Key).ScoreMember()
			for i, m := range item.Members {
				cmd = cmd.ScoreMember(float64(i+1), m)
			}
			cmds = append(cmds, cmd.Build())
			owners = append(owners, item.Key)
		}
	}

	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return &db.Error{Op: db.OpZAdd, Err: fmt.Errorf("key %s: %w", owners[i], err)}
		}
	}
	return nil
}
