// Package workload drives synthetic client traffic against a router.
package workload

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"kvring/internal/logging"
	"kvring/internal/storage"
)

// Client is the key/value surface a user talks to.
type Client interface {
	Put(key, value string)
	Get(key string) (string, error)
	Remove(key string) error
}

// User issues a random put, get or remove over a small key space, then
// sleeps Interval, until its context ends.
type User struct {
	Name     string
	Keys     int
	Values   int
	Interval time.Duration
	Logger   logrus.FieldLogger

	// Rand is the source of operations; nil means a time-seeded source.
	Rand *rand.Rand
}

// Run loops until ctx is done. Missing keys are logged, not fatal.
func (u *User) Run(ctx context.Context, client Client) {
	log := u.Logger
	if log == nil {
		log = logging.Discard()
	}
	log = log.WithField("user", u.Name)
	rng := u.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	for {
		u.step(rng, client, log)

		select {
		case <-ctx.Done():
			return
		case <-time.After(u.Interval):
		}
	}
}

func (u *User) step(rng *rand.Rand, client Client, log logrus.FieldLogger) {
	key := fmt.Sprintf("%s-key-%d", u.Name, rng.Intn(max(u.Keys, 1)))

	switch rng.Intn(3) {
	case 0:
		value := fmt.Sprintf("%s-value-%d", u.Name, rng.Intn(max(u.Values, 1)))
		client.Put(key, value)
		log.WithFields(logrus.Fields{"key": key, "value": value}).Info("put")
	case 1:
		err := client.Remove(key)
		if errors.Is(err, storage.ErrKeyNotFound) {
			log.WithField("key", key).Info("remove: key not found")
			return
		}
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("remove failed")
			return
		}
		log.WithField("key", key).Info("removed")
	default:
		value, err := client.Get(key)
		if errors.Is(err, storage.ErrKeyNotFound) {
			log.WithField("key", key).Info("get: key not found")
			return
		}
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("get failed")
			return
		}
		log.WithFields(logrus.Fields{"key": key, "value": value}).Info("got")
	}
}
