// typecodectl 是变体树的运维命令行工具：校验或重建闭包索引、导入产品族树、查看变更事件。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"variantenbaum-go/internal/config"
	"variantenbaum-go/internal/repository"
	"variantenbaum-go/internal/service"
	"variantenbaum-go/pkg/database"
	"variantenbaum-go/pkg/kafka"
	"variantenbaum-go/pkg/lock"
	"variantenbaum-go/pkg/log"
)

// treeOpener 按需打开 TreeService，只有访问数据库的命令才会连接 MySQL。
type treeOpener func() (service.TreeService, error)

func main() {
	var configPath string
	root := newRootCmd(&configPath, func() (service.TreeService, error) {
		return openTree(configPath)
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(configPath *string, open treeOpener) *cobra.Command {
	root := &cobra.Command{
		Use:           "typecodectl",
		Short:         "Maintenance tool for the variant tree",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(configPath, "config", "c", "./configs/config.yaml", "path to config.yaml")

	root.AddCommand(newVerifyClosureCmd(open))
	root.AddCommand(newRebuildClosureCmd(open))
	root.AddCommand(newImportCmd(open))
	root.AddCommand(newEventsCmd(configPath))
	return root
}

// loadConfig 读取配置并初始化日志。
func loadConfig(path string) config.Config {
	config.Init(path)
	cfg := config.Conf
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	return cfg
}

// openTree 按与服务端相同的方式装配 TreeService，写入同样受产品族锁保护。
func openTree(configPath string) (service.TreeService, error) {
	cfg := loadConfig(configPath)
	database.InitMySQL(cfg.Database.MySQL.DSN)

	var locker lock.Locker
	switch cfg.Lock.Backend {
	case "redis":
		database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		locker = lock.NewRedisLocker(database.RDB, cfg.Lock.TTL, cfg.Lock.Wait)
	case "local":
		locker = lock.NewLocalLocker(cfg.Lock.Wait)
	default:
		return nil, fmt.Errorf("unknown lock.backend %q", cfg.Lock.Backend)
	}

	db := database.DB
	return service.NewTreeService(
		repository.NewTransactor(db),
		repository.NewNodeRepository(db, cfg.Resolver.BatchSize),
		repository.NewLabelRepository(db),
		locker,
		kafka.NewPublisher(cfg.Kafka),
	), nil
}
