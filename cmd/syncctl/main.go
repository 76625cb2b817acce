package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storesync_v1/internal/app"
	"storesync_v1/internal/config"
	"storesync_v1/internal/middleware"
	"storesync_v1/internal/model"
	"storesync_v1/pkg/logger"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	cliApp := &cli.App{
		Name:  "syncctl",
		Usage: "店铺同步运维工具",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: ".env 文件路径"},
			&cli.Int64Flag{Name: "operator", Usage: "操作员 ID，记录到调度任务"},
		},
		Commands: []*cli.Command{
			{
				Name:  "reset",
				Usage: "清空同步记录与标记，下一轮全量重推",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "entity", Required: true, Usage: "category / product / membership / order / all"},
					&cli.Int64Flag{Name: "store", Usage: "店铺 ID，不填表示全部店铺"},
				},
				Action: withApp(resetAction),
			},
			{
				Name:  "retry",
				Usage: "重试失败记录",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "entity", Value: "all"},
				},
				Action: withApp(retryAction),
			},
			{
				Name:  "run",
				Usage: "立即为一个店铺执行一批同步",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "entity", Required: true},
					&cli.Int64Flag{Name: "store", Required: true},
				},
				Action: withApp(runAction),
			},
			{
				Name:  "status",
				Usage: "查看同步统计",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "store"},
				},
				Action: withApp(statusAction),
			},
			{
				Name:  "token",
				Usage: "签发操作员访问令牌",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "role", Value: middleware.RoleOperator},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: tokenAction,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ==================== 命令实现 ====================

func resetAction(c *cli.Context, a *app.App) error {
	entities, err := parseEntities(c.String("entity"))
	if err != nil {
		return err
	}
	storeID := optionalStore(c)

	for _, entity := range entities {
		report, err := a.Reset.ResetSync(c.Context, entity, storeID)
		if err != nil {
			return err
		}
		if err := printJSON(report); err != nil {
			return err
		}
	}
	return nil
}

func retryAction(c *cli.Context, a *app.App) error {
	entities, err := parseEntities(c.String("entity"))
	if err != nil {
		return err
	}
	for _, entity := range entities {
		summaries, err := a.Reset.RetryFailed(c.Context, entity)
		if err != nil {
			return err
		}
		if err := printJSON(summaries); err != nil {
			return err
		}
	}
	return nil
}

func runAction(c *cli.Context, a *app.App) error {
	entity, err := model.ParseEntityType(c.String("entity"))
	if err != nil {
		return err
	}
	summary, err := a.Tasks.Trigger(c.Context, entity, c.Int64("store"))
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func statusAction(c *cli.Context, a *app.App) error {
	stats, err := a.Reset.Status(c.Context, optionalStore(c))
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func tokenAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return err
	}
	applyJWTConfig(cfg)

	switch c.String("role") {
	case middleware.RoleAdmin, middleware.RoleOperator, middleware.RoleViewer:
	default:
		return fmt.Errorf("未知角色: %s", c.String("role"))
	}

	token, err := middleware.GenerateAccessToken(c.Int64("operator"), c.String("name"), c.String("role"), c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// ==================== 工具函数 ====================

// withApp 加载配置、组装依赖，并在 Ctrl+C 时取消上下文
func withApp(fn func(*cli.Context, *app.App) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load(c.String("env-file"))
		if err != nil {
			return err
		}
		applyJWTConfig(cfg)

		log, err := logger.Init(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if op := c.Int64("operator"); op > 0 {
			ctx = middleware.WithAuditInfo(ctx, op, "syncctl")
		}
		c.Context = ctx

		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				log.Warn("关闭数据库失败", zap.Error(err))
			}
		}()
		return fn(c, a)
	}
}

func applyJWTConfig(cfg *config.Config) {
	if cfg.Auth.JWTSecret == "" {
		return
	}
	jwtCfg := middleware.DefaultJWTConfig()
	jwtCfg.SecretKey = cfg.Auth.JWTSecret
	middleware.SetJWTConfig(jwtCfg)
}

func parseEntities(raw string) ([]model.EntityType, error) {
	if raw == "" || raw == "all" {
		return model.AllEntityTypes, nil
	}
	entity, err := model.ParseEntityType(raw)
	if err != nil {
		return nil, err
	}
	return []model.EntityType{entity}, nil
}

func optionalStore(c *cli.Context) *int64 {
	if !c.IsSet("store") {
		return nil
	}
	id := c.Int64("store")
	return &id
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
