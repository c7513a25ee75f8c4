package redis

import (
	"fmt"
	"strings"

	rd "github.com/go-redis/redis/v9"
)

type Config struct {
	Addrs     []string
	Namespace string
	PoolSize  int
	Password  string
}

type baseDao struct {
	redisClient rd.UniversalClient
	namespace   string
}

func newBaseDao(conf Config) *baseDao {
	client := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:    conf.Addrs,
		PoolSize: conf.PoolSize,
		Password: conf.Password,
	})
	return &baseDao{
		redisClient: client,
		namespace:   conf.Namespace,
	}
}

func (bd *baseDao) getNamespaceKey(args ...string) string {
	return fmt.Sprintf("%s:%s", bd.namespace, strings.Join(args, ":"))
}
