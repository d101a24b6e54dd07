// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"variantenbaum-go/internal/config"
	"variantenbaum-go/internal/handler"
	"variantenbaum-go/internal/importer"
	"variantenbaum-go/internal/middleware"
	"variantenbaum-go/internal/repository"
	"variantenbaum-go/internal/service"
	"variantenbaum-go/pkg/database"
	"variantenbaum-go/pkg/kafka"
	"variantenbaum-go/pkg/lock"
	"variantenbaum-go/pkg/log"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、产品族写锁和变更事件发布者
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if cfg.Database.MySQL.AutoMigrate {
		if err := repository.AutoMigrate(database.DB); err != nil {
			log.Fatalf("数据库迁移失败: %v", err)
		}
		log.Info("数据库表结构已同步")
	}

	var locker lock.Locker
	switch cfg.Lock.Backend {
	case "redis":
		database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		locker = lock.NewRedisLocker(database.RDB, cfg.Lock.TTL, cfg.Lock.Wait)
	case "local":
		locker = lock.NewLocalLocker(cfg.Lock.Wait)
	default:
		log.Fatalf("未知的 lock.backend: %s", cfg.Lock.Backend)
	}

	publisher := kafka.NewPublisher(cfg.Kafka)

	// 4. 初始化 Repository
	tx := repository.NewTransactor(database.DB)
	nodeRepo := repository.NewNodeRepository(database.DB, cfg.Resolver.BatchSize)
	labelRepo := repository.NewLabelRepository(database.DB)
	constraintRepo := repository.NewConstraintRepository(database.DB)
	successorRepo := repository.NewSuccessorRepository(database.DB)
	kmatRepo := repository.NewKmatRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	constraintService, err := service.NewConstraintService(constraintRepo, cfg.Constraints.RangeMode, publisher)
	if err != nil {
		log.Fatalf("约束服务初始化失败: %v", err)
	}
	treeService := service.NewTreeService(tx, nodeRepo, labelRepo, locker, publisher)
	successorService := service.NewSuccessorService(tx, successorRepo, nodeRepo, publisher)
	services := handler.Services{
		Tree:        treeService,
		Constraints: constraintService,
		Resolver:    service.NewResolverService(nodeRepo, constraintService),
		Successors:  successorService,
		Decoder:     service.NewDecoderService(nodeRepo, successorService),
		Bulk:        service.NewBulkService(tx, nodeRepo, labelRepo, publisher),
		Kmat:        service.NewKmatService(kmatRepo, nodeRepo, publisher),
	}

	// 6. 导入 initfile 目录中的产品族 JSON，已存在的产品族跳过
	initCtx, cancelInit := context.WithCancel(context.Background())
	defer cancelInit()
	go func() {
		if _, err := importer.New(treeService).SeedDir(initCtx, "initfile"); err != nil {
			log.Warnf("初始化导入中断: %v", err)
		}
	}()

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	handler.RegisterRoutes(r, services)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")
	cancelInit()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// 已提交写入的事件可能还在批次中，关闭时刷出
	if err := publisher.Close(); err != nil {
		log.Warnf("Kafka 生产者关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
