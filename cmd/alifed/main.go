package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ALiFe-Chain/internal/config"

	"github.com/urfave/cli/v2"
)

// main 是 alifed 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatalf("alifed 运行失败: %v", err)
	}
}

func newApp() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "JSON 配置文件路径",
		EnvVars: []string{"ALIFE_CONFIG"},
		Value:   config.DefaultPath,
	}
	return &cli.App{
		Name:  "alifed",
		Usage: "自治智能体生命周期编排服务",
		Flags: []cli.Flag{configFlag},
		Action: func(c *cli.Context) error {
			return serve(c.Context, c.String("config"))
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "启动 HTTP 服务（默认命令）",
				Action: func(c *cli.Context) error {
					return serve(c.Context, c.String("config"))
				},
			},
			tokenCommand(),
		},
	}
}
