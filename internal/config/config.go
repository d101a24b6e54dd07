// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         LogConfig         `mapstructure:"log"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Lock        LockConfig        `mapstructure:"lock"`
	Constraints ConstraintsConfig `mapstructure:"constraints"`
	Resolver    ResolverConfig    `mapstructure:"resolver"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储变更事件发布所用的 Kafka 配置。Brokers 为空时不发布事件。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// LockConfig 控制按产品族串行化结构写入的锁实现。
type LockConfig struct {
	// Backend 取值 "redis" 或 "local"
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Wait    time.Duration `mapstructure:"wait"`
}

// ConstraintsConfig 存储约束校验相关的配置。
type ConstraintsConfig struct {
	// RangeMode 取值 "expand"（默认）或 "lexical"，决定范围代码的比较方式。
	RangeMode string `mapstructure:"range_mode"`
}

// ResolverConfig 存储兼容性解析相关的配置。
type ResolverConfig struct {
	// BatchSize 限制单条 IN (...) 查询中的 ID 数量。
	BatchSize int `mapstructure:"batch_size"`
}

func setDefaults() {
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("kafka.topic", "typecode.changes")
	viper.SetDefault("lock.backend", "local")
	viper.SetDefault("lock.ttl", 30*time.Second)
	viper.SetDefault("lock.wait", 10*time.Second)
	viper.SetDefault("constraints.range_mode", "expand")
	viper.SetDefault("resolver.batch_size", 500)
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 环境变量 TYPECODE_* 覆盖文件中的同名键，例如 TYPECODE_DATABASE_MYSQL_DSN。
func Init(configPath string) {
	setDefaults()
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("typecode")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
