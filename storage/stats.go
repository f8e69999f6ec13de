package storage

import (
	"time"

	"github.com/go-redis/redis/v7"
)

// Stats keeps day-keyed usage counters. These are aggregate numbers, not
// session state; rooms themselves never touch redis.
type Stats interface {
	IncrVisits() (int64, error)
	VisitsByDate(date time.Time) (int64, error)
	IncrSessions() (int64, error)
	SessionsByDate(date time.Time) (int64, error)
}

type stats struct {
	rdb *redis.Client
}

func NewStats(rdb *redis.Client) Stats {
	return &stats{rdb: rdb}
}

const dateLayout = "02.01.06"

func (s *stats) IncrVisits() (int64, error) {
	return s.rdb.Incr("visits:" + time.Now().Format(dateLayout)).Result()
}

func (s *stats) VisitsByDate(date time.Time) (int64, error) {
	return s.rdb.Get("visits:" + date.Format(dateLayout)).Int64()
}

func (s *stats) IncrSessions() (int64, error) {
	return s.rdb.Incr("sessions:" + time.Now().Format(dateLayout)).Result()
}

func (s *stats) SessionsByDate(date time.Time) (int64, error) {
	return s.rdb.Get("sessions:" + date.Format(dateLayout)).Int64()
}
