package config

import (
	"github.com/ispkit/stepflow/audit"
)

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	HttpPort               int
	StorageType            StorageType
	RedisConfig            RedisStorageConfig
	AuditConfig            audit.RecorderConfig
	EscalationSweepSeconds int
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
}
