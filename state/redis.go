package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/garyburd/redigo/redis"
	"github.com/google/uuid"
)

// DefaultLeaseTTL is how long a lock survives its holder when it is no
// longer renewed.
const DefaultLeaseTTL = 30 * time.Second

var (
	renewScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisStore keeps the whole state document under a single key, so that
// every save replaces it atomically. Lock is a lease on a second key, renewed
// every third of LeaseTTL.
type RedisStore struct {
	redis    redis.Conn
	Prefix   string
	Site     string
	LeaseTTL time.Duration

	mutex sync.Mutex
	token string
	lost  bool
	stop  chan struct{}
	done  chan struct{}
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(url, prefix, site string) (*RedisStore, error) {
	conn, err := redis.DialURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreWithConn(conn, prefix, site), nil
}

func NewRedisStoreWithConn(conn redis.Conn, prefix, site string) *RedisStore {
	return &RedisStore{
		redis:    conn,
		Prefix:   prefix,
		Site:     site,
		LeaseTTL: DefaultLeaseTTL,
	}
}

func (s *RedisStore) key() string {
	return fmt.Sprintf("%ssites:%s", s.Prefix, s.Site)
}

func (s *RedisStore) lockKey() string {
	return s.key() + ":lock"
}

func (s *RedisStore) Location() string {
	return "redis:" + s.key()
}

func (s *RedisStore) Lock() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.token != "" {
		return nil
	}
	if s.LeaseTTL <= 0 {
		s.LeaseTTL = DefaultLeaseTTL
	}

	token := uuid.NewString()
	_, err := redis.String(s.redis.Do("SET", s.lockKey(), token, "NX", "PX", s.LeaseTTL.Milliseconds()))
	if errors.Is(err, redis.ErrNil) {
		return fmt.Errorf("%w: '%s' is held", ErrLocked, s.lockKey())
	} else if err != nil {
		return fmt.Errorf("failed to lock state in redis: %w", err)
	}

	s.token, s.lost = token, false
	s.stop, s.done = make(chan struct{}), make(chan struct{})
	go s.renew(s.stop, s.done)
	return nil
}

func (s *RedisStore) renew(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.LeaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mutex.Lock()
		renewed, err := redis.Int(renewScript.Do(s.redis, s.lockKey(), s.token, s.LeaseTTL.Milliseconds()))
		lost := err == nil && renewed == 0
		if lost {
			// Expired and possibly taken over: every later save is refused
			s.lost = true
		}
		s.mutex.Unlock()

		if lost {
			return
		}
	}
}

func (s *RedisStore) Unlock() error {
	s.mutex.Lock()
	if s.token == "" {
		s.mutex.Unlock()
		return nil
	}
	stop, done := s.stop, s.done
	s.mutex.Unlock()

	close(stop)
	<-done

	s.mutex.Lock()
	defer s.mutex.Unlock()

	token := s.token
	s.token, s.lost = "", false
	if _, err := releaseScript.Do(s.redis, s.lockKey(), token); err != nil {
		return fmt.Errorf("failed to unlock state in redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Load() (*ProviderState, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := redis.Bytes(s.redis.Do("GET", s.key()))
	if errors.Is(err, redis.ErrNil) {
		return nil, fmt.Errorf("%w: no state under '%s'", ErrNotFound, s.key())
	} else if err != nil {
		return nil, fmt.Errorf("failed to read state from redis: %w", err)
	}

	return decode(s.Location(), data)
}

func (s *RedisStore) Save(state *ProviderState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.lost {
		return fmt.Errorf("%w: lease on '%s' expired", ErrLocked, s.lockKey())
	}
	if _, err := s.redis.Do("SET", s.key(), data); err != nil {
		return fmt.Errorf("failed to write state to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}
